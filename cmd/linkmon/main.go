// Command linkmon polls a running natlinkd diagnostics server and prints
// a snapshot of extension/device state, the way a bus sniffer's
// pretty-printer would — but informational only, read-only, and external
// to the protocol engine itself.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

var (
	addr     = flag.String("addr", "http://127.0.0.1:8090", "natlinkd diagnostics server base URL")
	interval = flag.Duration("interval", 2*time.Second, "poll interval (0 = single shot)")
)

func main() {
	flag.Parse()

	for {
		if err := poll(); err != nil {
			log.Printf("linkmon: %v", err)
		}
		if *interval <= 0 {
			return
		}
		time.Sleep(*interval)
	}
}

func poll() error {
	body, err := fetch("/api/v1/extensions")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func fetch(path string) ([]byte, error) {
	resp, err := http.Get(*addr + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err == nil {
		if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			return out, nil
		}
	}
	return body, nil
}

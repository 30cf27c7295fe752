package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// defaultRequest works against any cache named "default" holding grid
// entries under phrase "1".
const defaultRequest = `{"subqueries": [{"cache": "default", "mask": 1, "idx": 0, "zoom": 14, "weight": 1, "phrase": "1", "prefix": 0}]}`

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the geocoder")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	requestsPath := flag.String("requests", "", "file with one coalesce request body per line")
	flag.Parse()

	bodies := [][]byte{[]byte(defaultRequest)}
	if *requestsPath != "" {
		loaded, err := readBodies(*requestsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading requests: %v\n", err)
			os.Exit(2)
		}
		bodies = loaded
	}

	fmt.Println("=== Geocoder Coalesce Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Requests:    %d unique\n", len(bodies))
	fmt.Println()

	stats := run(*baseURL, *concurrency, *duration, bodies)
	if stats.Report(os.Stdout, *duration) == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the geocoder running?")
		os.Exit(1)
	}
}

func readBodies(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var bodies [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("line %d is not valid JSON", len(bodies)+1)
		}
		bodies = append(bodies, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(bodies) == 0 {
		return nil, fmt.Errorf("%s holds no requests", path)
	}
	return bodies, nil
}

func run(baseURL string, concurrency int, duration time.Duration, bodies [][]byte) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	target := baseURL + "/api/v1/coalesce"

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; ctx.Err() == nil; i++ {
				body := bodies[i%len(bodies)]
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
				if err != nil {
					stats.Record(0, 0, false, err)
					continue
				}
				req.Header.Set("Content-Type", "application/json")

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.Record(elapsed, 0, false, err)
					}
					continue
				}
				var decoded struct {
					CacheHit bool `json:"cache_hit"`
				}
				raw, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				_ = json.Unmarshal(raw, &decoded)
				stats.Record(elapsed, resp.StatusCode, decoded.CacheHit, nil)
			}
		}()
	}
	wg.Wait()
	return stats
}

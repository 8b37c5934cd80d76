// canary_compare replays a list of requests against two versions of a
// backend and reports status, body, and latency differences. Run it before
// shifting canary weight to a new version.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
)

type target struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
}

type config struct {
	Targets []target `json:"targets"`
}

type comparison struct {
	Target          target
	StableStatus    int
	CanaryStatus    int
	StatusMatch     bool
	BodyMatch       bool
	Error           error
	DurationStable  time.Duration
	DurationCanary  time.Duration
}

func main() {
	var (
		stableBase  string
		canaryBase  string
		targetsPath string
		timeout     time.Duration
	)

	flag.StringVar(&stableBase, "stable-base", "http://localhost:8081", "stable version base URL")
	flag.StringVar(&canaryBase, "canary-base", "http://localhost:8082", "canary version base URL")
	flag.StringVar(&targetsPath, "targets", filepath.Join("scripts", "canary_compare", "targets.json"), "Path to JSON targets file")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	targets, err := loadTargets(targetsPath)
	if err != nil {
		log.Fatalf("failed to load targets: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	var (
		comparisons  []comparison
		breaking     int
		optionalDiff int
	)

	for _, t := range targets {
		comp := compareTarget(client, stableBase, canaryBase, t)
		if comp.Error != nil {
			if t.Critical {
				breaking++
			}
		} else {
			if !comp.StatusMatch || !comp.BodyMatch {
				if t.Critical {
					breaking++
				} else {
					optionalDiff++
				}
			}
		}
		comparisons = append(comparisons, comp)
	}

	printReport(comparisons)

	fmt.Printf("Breaking diffs: %d, Optional diffs: %d\n", breaking, optionalDiff)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return cfg.Targets, nil
}

func compareTarget(client *http.Client, stableBase, canaryBase string, tgt target) comparison {
	comp := comparison{Target: tgt}
	stableResp, stableDur, stableErr := performRequest(client, stableBase, tgt)
	canaryResp, canaryDur, canaryErr := performRequest(client, canaryBase, tgt)
	comp.DurationStable = stableDur
	comp.DurationCanary = canaryDur

	if stableErr != nil {
		comp.Error = fmt.Errorf("stable request failed: %w", stableErr)
		return comp
	}
	if canaryErr != nil {
		comp.Error = fmt.Errorf("canary request failed: %w", canaryErr)
		return comp
	}

	comp.StableStatus = stableResp.StatusCode
	comp.CanaryStatus = canaryResp.StatusCode
	comp.StatusMatch = comp.StableStatus == comp.CanaryStatus

	defer stableResp.Body.Close()
	defer canaryResp.Body.Close()

	stableBody, err := io.ReadAll(stableResp.Body)
	if err != nil {
		comp.Error = fmt.Errorf("read stable body: %w", err)
		return comp
	}
	canaryBody, err := io.ReadAll(canaryResp.Body)
	if err != nil {
		comp.Error = fmt.Errorf("read canary body: %w", err)
		return comp
	}

	comp.BodyMatch = bodiesEqual(stableBody, canaryBody)

	return comp
}

func performRequest(client *http.Client, base string, tgt target) (*http.Response, time.Duration, error) {
	if client == nil {
		return nil, 0, errors.New("nil client")
	}
	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimRight(base, "/") + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp, time.Since(start), nil
}

func bodiesEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func printReport(results []comparison) {
	fmt.Println("Canary Compare Report")
	fmt.Println("=====================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.StatusMatch || !res.BodyMatch {
			status = "DIFF"
		}
		fmt.Printf("[%s] %s %s\n", status, res.Target.Method, res.Target.Path)
		fmt.Printf("  Canary Status: %d (%s)\n", res.CanaryStatus, res.DurationCanary)
		fmt.Printf("  Stable Status: %d (%s)\n", res.StableStatus, res.DurationStable)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
		} else {
			fmt.Printf("  Status match: %t | Body match: %t | Critical: %t\n", res.StatusMatch, res.BodyMatch, res.Target.Critical)
		}
	}
}

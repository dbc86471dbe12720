package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	doAdmin(http.MethodGet, adminURL(*baseURL, "/admin/v1/state", nil), 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	doAdmin(http.MethodPost, adminURL(*baseURL, "/admin/v1/snapshot", nil), 10*time.Second)
}

// regionCmd adds or removes a grid region: admin region -op remove -x 1 -y -2
func regionCmd(args []string) {
	fs := flag.NewFlagSet("region", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	op := fs.String("op", "", "add or remove")
	x := fs.Int("x", 0, "region x")
	y := fs.Int("y", 0, "region y")
	_ = fs.Parse(args)

	if *op != "add" && *op != "remove" {
		fmt.Fprintln(os.Stderr, "-op must be add or remove")
		os.Exit(2)
	}
	q := url.Values{}
	q.Set("op", *op)
	q.Set("x", strconv.Itoa(*x))
	q.Set("y", strconv.Itoa(*y))
	doAdmin(http.MethodPost, adminURL(*baseURL, "/admin/v1/regions", q), 10*time.Second)
}

func adminURL(base, path string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func doAdmin(method, u string, timeout time.Duration) {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

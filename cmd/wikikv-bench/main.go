package main

import (
	"flag"
	"time"

	"wikikv/benchmark"
	"wikikv/configs"
)

var (
	addr     string
	clients  int
	pages    int64
	skew     float64
	warmUp   time.Duration
	duration time.Duration
	debug    bool
)

func init() {
	flag.StringVar(&addr, "addr", "127.0.0.1:8000", "the coordinator address")
	flag.IntVar(&clients, "c", 8, "the number of clients")
	flag.Int64Var(&pages, "pages", 1000, "the page working-set size")
	flag.Float64Var(&skew, "skew", 0.5, "the skew factor for the zipf page distribution")
	flag.DurationVar(&warmUp, "warmup", 2*time.Second, "the warm-up time before measuring")
	flag.DurationVar(&duration, "t", 10*time.Second, "the measured run time")
	flag.BoolVar(&debug, "debug", false, "log debug info")
}

func main() {
	flag.Parse()
	configs.ShowDebugInfo = debug
	configs.ShowWarnings = debug
	configs.ShowTestInfo = debug
	stmt := benchmark.NewStmt(benchmark.Options{
		Coordinator: addr,
		Clients:     clients,
		Pages:       pages,
		Skew:        skew,
		WarmUp:      warmUp,
		Duration:    duration,
	})
	stmt.Run()
}

// Package benchmark drives page writes against a running coordinator
// and reports throughput and latency. The working set follows a zipf
// distribution so hot pages exercise the conflict guard.
package benchmark

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"wikikv/configs"
	"wikikv/network"
	"wikikv/utils"

	"github.com/pingcap/go-ycsb/pkg/generator"
)

// Options tunes one load run.
type Options struct {
	Coordinator string
	Clients     int
	Pages       int64
	Skew        float64
	WarmUp      time.Duration
	Duration    time.Duration
}

// Stmt owns one load run: the shared stat sink and the stop flag every
// client goroutine polls.
type Stmt struct {
	opts Options
	stat *utils.Stat
	stop int32
	wg   sync.WaitGroup
}

type loadClient struct {
	from   *Stmt
	r      *rand.Rand
	zip    *generator.Zipfian
	client *network.Client
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(r *rand.Rand, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

func NewStmt(opts Options) *Stmt {
	if opts.Clients == 0 {
		opts.Clients = configs.MaxConnectionHandler
	}
	if opts.Pages == 0 {
		opts.Pages = 1000
	}
	return &Stmt{opts: opts, stat: utils.NewStat()}
}

func (stmt *Stmt) Stopped() bool {
	return atomic.LoadInt32(&stmt.stop) != 0
}

func (stmt *Stmt) Stop() {
	atomic.StoreInt32(&stmt.stop, 1)
	stmt.wg.Wait()
}

// performCommit sends one page write and records how it went. A 409 is
// a conflict rejection, not a failure of the run.
func (c *loadClient) performCommit() {
	page := "page" + strconv.FormatInt(c.zip.Next(c.r), 10)
	msg := network.RequestPageCommit{Page: page, Content: randSeq(c.r, 16)}
	start := time.Now()
	err := c.client.Post(context.Background(), c.from.opts.Coordinator, "/request_page_commit", msg, nil)
	info := utils.Info{Latency: time.Since(start)}
	var se *network.StatusError
	switch {
	case err == nil:
		info.IsCommit = true
	case errors.As(err, &se) && se.Code == http.StatusConflict:
		info.Conflict = true
	default:
		configs.Warn(false, "request failed: "+err.Error())
	}
	c.from.stat.Append(info)
}

func (stmt *Stmt) startClient(seed int) {
	defer stmt.wg.Done()
	client := loadClient{from: stmt, client: network.NewClient()}
	client.r = rand.New(rand.NewSource(int64(seed)*11 + 31))
	client.zip = generator.NewZipfianWithRange(0, stmt.opts.Pages-1, stmt.opts.Skew)
	for !stmt.Stopped() {
		client.performCommit()
	}
}

// Run starts the clients, waits out the warm-up, measures for the
// configured duration and prints the summary line.
func (stmt *Stmt) Run() {
	for i := 0; i < stmt.opts.Clients; i++ {
		stmt.wg.Add(1)
		go stmt.startClient(i*11 + 13)
	}
	configs.TPrintf("all clients started")
	time.Sleep(stmt.opts.WarmUp)
	stmt.stat.Clear()
	time.Sleep(stmt.opts.Duration)
	stmt.stat.Log()
	stmt.Stop()
}

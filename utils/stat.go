// Package utils collects per-request results during a load run and
// turns them into one summary line per interval.
package utils

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Info is the outcome of one commit request as the client saw it.
type Info struct {
	IsCommit bool
	Conflict bool
	Latency  time.Duration
}

// Stat aggregates Infos across all client goroutines.
type Stat struct {
	mu        sync.Mutex
	infos     []Info
	beginTime time.Time
}

func NewStat() *Stat {
	return &Stat{beginTime: time.Now()}
}

func (st *Stat) Append(info Info) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.infos = append(st.infos, info)
}

// Log prints one summary line for everything appended since the last
// Clear: request and commit counts per second, conflict rejections, and
// the latency percentiles.
func (st *Stat) Log() {
	st.mu.Lock()
	defer st.mu.Unlock()
	elapsed := time.Since(st.beginTime).Seconds()
	if elapsed <= 0 {
		return
	}
	reqCnt, success, conflict := 0, 0, 0
	latencySum := time.Duration(0)
	latencies := make([]int, 0, len(st.infos))
	for _, tmp := range st.infos {
		reqCnt++
		if tmp.IsCommit {
			success++
		}
		if tmp.Conflict {
			conflict++
		}
		if tmp.Latency > 0 {
			latencySum += tmp.Latency
			latencies = append(latencies, int(tmp.Latency))
		}
	}
	msg := "req_cnt:" + strconv.Itoa(int(float64(reqCnt)/elapsed)) + ";"
	msg += "commit_cnt:" + strconv.Itoa(int(float64(success)/elapsed)) + ";"
	msg += "conflict_cnt:" + strconv.Itoa(int(float64(conflict)/elapsed)) + ";"
	sort.Ints(latencies)
	if len(latencies) > 0 {
		i := Min((len(latencies)*99+99)/100, len(latencies)-1)
		msg += "p99_latency:" + time.Duration(latencies[i]).String() + ";"
		i = Min((len(latencies)*9+9)/10, len(latencies)-1)
		msg += "p90_latency:" + time.Duration(latencies[i]).String() + ";"
		i = Min((len(latencies)+1)/2, len(latencies)-1)
		msg += "p50_latency:" + time.Duration(latencies[i]).String() + ";"
		msg += "ave_latency:" + (latencySum / time.Duration(len(latencies))).String() + ";"
	} else {
		msg += "p99_latency:nil;"
		msg += "p90_latency:nil;"
		msg += "p50_latency:nil;"
		msg += "ave_latency:nil;"
	}
	fmt.Println(msg)
}

func (st *Stat) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.infos = st.infos[:0]
	st.beginTime = time.Now()
}

func Min(x int, y int) int {
	if x < y {
		return x
	}
	return y
}

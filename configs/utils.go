package configs

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

func TxnPrint(tid uint64, format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+"TXN"+strconv.FormatUint(tid, 10)+": "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+"TXN"+strconv.FormatUint(tid, 10)+": "+format+"\n", a...)
		}
	}
}

func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

func JPrint(v interface{}) {
	byt, _ := json.Marshal(v)
	fmt.Println(string(byt))
}

func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] Assert error at " + msg + "\n")
	}
	return cond
}

func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		if !LogToFile {
			fmt.Printf("[WARNING] :" + msg + "\n")
		} else {
			log.Printf("[WARNING] :" + msg + "\n")
		}
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}

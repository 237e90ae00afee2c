// Command rendezvous-demo exercises the crow package's channel family
// end to end: a simplex channel, a word push-pull socket, a generic
// (string-payload) push-pull socket, and a lock contest among up to 8
// goroutines (--contenders, default 4), each driven to completion and
// reported on stdout. It is not part of the library; it exists to give
// these types a caller from the outside. The narrow and leveled channels
// are not exercised here.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	crow "github.com/tef/rendezvous"
)

func main() {
	var (
		settleDelay = pflag.Duration("settle-delay", 200*time.Nanosecond, "lock arbitration settle delay")
		contenders  = pflag.IntP("contenders", "c", 4, "number of goroutines contesting the lock (max 8)")
		scenario    = pflag.StringP("scenario", "s", "all", "which demo to run: simplex, pushpull, lock, or all")
		help        = pflag.Bool("help", false, "display help text")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rendezvous-demo [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	if *contenders < 1 || *contenders > 8 {
		fmt.Fprintln(os.Stderr, "rendezvous-demo: --contenders must be between 1 and 8")
		os.Exit(1)
	}

	switch *scenario {
	case "simplex":
		runSimplex()
	case "pushpull":
		runPushPull()
	case "lock":
		runLock(*settleDelay, *contenders)
	case "all":
		runSimplex()
		runPushPull()
		runLock(*settleDelay, *contenders)
	default:
		fmt.Fprintf(os.Stderr, "rendezvous-demo: unknown scenario %q\n", *scenario)
		os.Exit(1)
	}
}

func runSimplex() {
	fmt.Println("=== simplex channel ===")
	sender, receiver := crow.NewChannel()

	for sender.TrySend(42) != nil {
	}
	var got uint64
	var err error
	for {
		got, err = receiver.TryRecv()
		if err == nil {
			break
		}
	}
	fmt.Printf("sent 42, received %d\n", got)
}

func runPushPull() {
	fmt.Println("=== push-pull socket (word payload) ===")
	main_, sub := crow.NewSocketPair()

	for main_.TrySend(7) != nil {
	}
	for {
		if v, err := sub.TryRecv(); err == nil {
			fmt.Printf("sub received %d from main\n", v)
			break
		}
	}
	for sub.TrySend(9) != nil {
	}
	for {
		if v, err := main_.TryRecv(); err == nil {
			fmt.Printf("main received %d from sub\n", v)
			break
		}
	}

	fmt.Println("=== push-pull socket (generic string payload) ===")
	genMain, genSub, err := crow.NewGenericSocketPair[string]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rendezvous-demo: %v\n", err)
		return
	}
	for genMain.TrySend("Hello, World!") != nil {
	}
	for {
		if v, err := genSub.TryRecv(); err == nil {
			fmt.Printf("sub received %q from main\n", v)
			break
		}
	}
}

func runLock(settleDelay time.Duration, n int) {
	fmt.Println("=== arbitration lock ===")

	lock := crow.NewLock()
	lock.SettleDelay = settleDelay
	lock.History = crow.NewContestLog()

	mailbox := crow.NewBoundedMailbox(n)
	done := make(chan struct{})

	contenders := lock.Contenders()[:n]
	for _, c := range contenders {
		go func(c *crow.Contender) {
			defer func() { done <- struct{}{} }()
			for {
				if err := c.Contest(); err == nil {
					mailbox.Post(fmt.Sprintf("contender %#b won", c.ID()))
					c.Reset()
					return
				}
			}
		}(c)
	}

	for range contenders {
		<-done
	}

	for _, msg := range mailbox.Drain() {
		fmt.Println(msg)
	}
	for _, c := range contenders {
		outcome, ok := lock.History.Load(c.ID())
		if ok {
			fmt.Printf("contender %#b last outcome: %s\n", c.ID(), outcome)
		}
	}
}

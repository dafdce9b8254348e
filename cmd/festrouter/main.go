package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
)

const helpText = `festrouter - switch live camera feeds between monitors over WebRTC

Usage:
  festrouter [command] [options]

Router:
  serve                         run the router and its control API (default)

Endpoints:
  source -file clip.h264        publish an H264 Annex-B file as a camera
  sink                          receive a routed feed, H264 is written to stdout

Operators:
  status                        print sources, sinks and routes
  watch                         follow status changes live
  route SINK [SOURCE]           show SOURCE on SINK, no SOURCE means no signal
  remove ID                     remove a source or sink
  offer-sink [-id ID] [-name N] have the router offer a session to a monitor
  answer-sink -in FILE          hand the monitor's answer back to the router
  token -sub NAME [-ttl 24h]    mint an operator token

Environment Variables:
  FEST_ROUTER_URL  router address for endpoint and operator commands
  FEST_TOKEN       operator token
  FEST_CONFIG      router YAML config file (default festrouter.yaml)
  FEST_*           router overrides, see festrouter.yaml

Examples:
  # Live playback of whatever the router routes to this monitor
  festrouter sink | ffplay -f h264 -

  # Blob exchange without network access to the router API
  festrouter source -file stage.h264 -out offer.json < answer.json
`

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(helpText)
		return
	case "serve":
		err = runServe(args)
	case "source":
		err = runSource(args)
	case "sink":
		err = runSink(args)
	case "status":
		err = runStatus(args)
	case "watch":
		err = runWatch(args)
	case "route":
		err = runRoute(args)
	case "remove":
		err = runRemove(args)
	case "offer-sink":
		err = runOfferSink(args)
	case "answer-sink":
		err = runAnswerSink(args)
	case "token":
		err = runToken(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, helpText)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("[main] %s: %v", cmd, err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[main] received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		ossignal.Stop(sigCh)
	}()

	return ctx, cancel
}

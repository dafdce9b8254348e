package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"fest_router/native/internal/api"
	"fest_router/native/internal/codec"
	"fest_router/native/internal/config"
	"fest_router/native/internal/console"
	"fest_router/native/internal/domain"
	"fest_router/native/internal/signal"

	tea "github.com/charmbracelet/bubbletea"
)

const requestTimeout = 30 * time.Second

func operatorClient() *api.Client {
	cc := config.LoadClient()
	return api.NewClient(cc.RouterURL, cc.Token)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	client := operatorClient()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	st, err := client.State(ctx)
	if err != nil {
		return err
	}
	fmt.Println(console.RenderState(st))
	return nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	title := fs.String("title", "Fest Router", "window title")
	fs.Parse(args)

	cc := config.LoadClient()
	w := console.NewWatcher()
	defer w.Stop()

	feed := signal.NewClient(cc.RouterURL, cc.Token, w)
	if err := feed.Connect(); err != nil {
		return err
	}
	defer feed.Close()

	// Logs would corrupt the view
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	p := tea.NewProgram(w.Model(*title), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(interface{ Err() error }); ok && m.Err() != nil {
		return m.Err()
	}
	return nil
}

func runRoute(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: festrouter route SINK [SOURCE]")
	}
	sourceID := ""
	if len(args) == 2 {
		sourceID = args[1]
	}

	client := operatorClient()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := client.Assign(ctx, args[0], sourceID); err != nil {
		return err
	}
	if sourceID == "" {
		log.Printf("[main] %s now shows no signal", args[0])
	} else {
		log.Printf("[main] %s now shows %s", args[0], sourceID)
	}
	return nil
}

func runRemove(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: festrouter remove ID")
	}

	client := operatorClient()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	return client.Remove(ctx, args[0])
}

func runOfferSink(args []string) error {
	fs := flag.NewFlagSet("offer-sink", flag.ExitOnError)
	id := fs.String("id", "", "session id (default random)")
	name := fs.String("name", "", "display name")
	out := fs.String("out", "", "where to write the router offer")
	fs.Parse(args)

	client := operatorClient()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	blob, err := client.OfferSink(ctx, *id, *name)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = codec.FileName(domain.KindRouterOffer, time.Now())
	}
	if err := writeBlob(path, blob); err != nil {
		return err
	}
	log.Printf("[main] router offer written to %s", path)
	return nil
}

func runAnswerSink(args []string) error {
	fs := flag.NewFlagSet("answer-sink", flag.ExitOnError)
	in := fs.String("in", "", "sink answer file (required)")
	fs.Parse(args)

	if *in == "" {
		return errors.New("-in is required")
	}
	blob, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}

	client := operatorClient()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	return client.CompleteSinkOffer(ctx, blob)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	sub := fs.String("sub", "", "operator name (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.Parse(args)

	if *sub == "" {
		return errors.New("-sub is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("FEST_JWT_SECRET is not set")
	}

	token, err := api.MintToken(cfg.JWTSecret, *sub, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

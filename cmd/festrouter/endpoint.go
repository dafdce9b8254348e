package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"fest_router/native/internal/api"
	"fest_router/native/internal/camera"
	"fest_router/native/internal/codec"
	"fest_router/native/internal/config"
	"fest_router/native/internal/domain"
	"fest_router/native/internal/viewer"
	"fest_router/native/internal/webrtc"

	"github.com/google/uuid"
)

func runSource(args []string) error {
	fs := flag.NewFlagSet("source", flag.ExitOnError)
	file := fs.String("file", "", "H264 Annex-B file to publish (required)")
	fps := fs.Int("fps", camera.DefaultFPS, "frames per second")
	id := fs.String("id", "", "session id (default random)")
	name := fs.String("name", "", "display name")
	out := fs.String("out", "", "write the offer here and read the answer from stdin instead of calling the router")
	fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}
	if *id == "" {
		*id = uuid.NewString()
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := webrtc.NewEngine(webrtc.EngineConfig{})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	peer, err := webrtc.NewPeer(engine, *id, webrtc.Options{
		Side: webrtc.SideEndpoint,
		Role: domain.RoleSource,
		Name: *name,
	})
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	defer peer.Close()

	stream, err := camera.OpenFile(*id, *file, *fps)
	if err != nil {
		return err
	}

	var client domain.RouterClient
	if *out == "" {
		cc := config.LoadClient()
		client = api.NewClient(cc.RouterURL, cc.Token)
	}
	pub := camera.NewPublisher(peer, client, cancel)
	unsubscribe := peer.Subscribe(pub.OnSessionEvent)
	defer unsubscribe()

	if *out == "" {
		if err := pub.Publish(ctx, stream); err != nil {
			return err
		}
	} else {
		blob, err := pub.Offer(ctx, stream)
		if err != nil {
			return err
		}
		if err := writeBlob(*out, blob); err != nil {
			return err
		}
		log.Printf("[main] offer written to %s, paste the router answer and press Ctrl-D", *out)
		answer, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read answer: %w", err)
		}
		if err := pub.Complete(answer); err != nil {
			return err
		}
	}

	log.Printf("[main] source %s published", *id)
	<-ctx.Done()
	return nil
}

func runSink(args []string) error {
	fs := flag.NewFlagSet("sink", flag.ExitOnError)
	id := fs.String("id", "", "session id (default random)")
	name := fs.String("name", "", "display name")
	offer := fs.String("offer", "", "answer this router-offer file instead of calling the router")
	out := fs.String("out", "", "where to write the answer (with -offer)")
	fs.Parse(args)

	if *id == "" {
		*id = uuid.NewString()
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := webrtc.NewEngine(webrtc.EngineConfig{})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	peer, err := webrtc.NewPeer(engine, *id, webrtc.Options{
		Side: webrtc.SideEndpoint,
		Role: domain.RoleSink,
		Name: *name,
	})
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	defer peer.Close()

	// H264 -> stdout
	peer.SetVideoOutput(os.Stdout)

	var client domain.RouterClient
	if *offer == "" {
		cc := config.LoadClient()
		client = api.NewClient(cc.RouterURL, cc.Token)
	}
	v := viewer.New(peer, client, cancel)
	unsubscribe := peer.Subscribe(v.OnSessionEvent)
	defer unsubscribe()

	if *offer == "" {
		if err := v.Join(ctx); err != nil {
			return err
		}
	} else {
		blob, err := os.ReadFile(*offer)
		if err != nil {
			return fmt.Errorf("read offer: %w", err)
		}
		answer, err := v.Answer(ctx, blob)
		if err != nil {
			return err
		}
		path := *out
		if path == "" {
			path = codec.FileName(domain.KindSinkAnswer, time.Now())
		}
		if err := writeBlob(path, answer); err != nil {
			return err
		}
		log.Printf("[main] answer written to %s, hand it to the router operator", path)
	}

	<-ctx.Done()
	return nil
}

func writeBlob(path string, blob []byte) error {
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

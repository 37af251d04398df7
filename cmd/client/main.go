package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amanullahtanweer/sign-relay/internal/client"
	"github.com/amanullahtanweer/sign-relay/internal/frames"
	"github.com/amanullahtanweer/sign-relay/internal/speech"
	"github.com/amanullahtanweer/sign-relay/internal/stabilizer"
)

func main() {
	var (
		gatewayURL string
		framesDir  string
		intervalMs int
		speakCmd   string
	)
	flag.StringVar(&gatewayURL, "gateway", "ws://localhost:3000/ws", "Gateway websocket URL")
	flag.StringVar(&framesDir, "frames", "./frames", "Directory of encoded frames to stream")
	flag.IntVar(&intervalMs, "interval", 100, "Capture interval in milliseconds")
	flag.StringVar(&speakCmd, "speak", "", "TTS command for spoken output (e.g. espeak-ng); empty logs instead")
	flag.Parse()

	src, err := frames.NewDirSource(framesDir)
	if err != nil {
		log.Fatalf("Failed to open frame source: %v", err)
	}

	var sink stabilizer.Speaker = speech.LogSink{}
	if speakCmd != "" {
		sink = speech.NewCommandSink(speakCmd)
	}
	stab := stabilizer.New(sink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Config{
		GatewayURL:      gatewayURL,
		CaptureInterval: time.Duration(intervalMs) * time.Millisecond,
	}, src, stab)

	log.Printf("Streaming frames from %s to %s", framesDir, gatewayURL)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Client error: %v", err)
	}

	stab.Flush()
	printHistory(stab)
}

func printHistory(stab *stabilizer.Stabilizer) {
	h := stab.History()
	if len(h) == 0 {
		fmt.Println("No words recognized.")
		return
	}
	fmt.Println("Recognized history:")
	for _, entry := range h {
		spoken := " "
		if entry.Spoken {
			spoken = "*"
		}
		fmt.Printf("  [%s] %s %s\n", entry.Timestamp.Format("15:04:05"), spoken, entry.Word)
	}
}

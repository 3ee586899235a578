package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/ghostpair/ghostpair/internal/client"
	"github.com/ghostpair/ghostpair/internal/protocol"
)

var (
	noticeColor  = color.New(color.FgYellow)
	partnerColor = color.New(color.FgCyan)
	selfColor    = color.New(color.FgGreen)
	statusColor  = color.New(color.FgMagenta)
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	url := pflag.String("url", "ws://localhost:8080/ws", "server websocket url")
	ipEndpoint := pflag.String("ip-endpoint", "http://localhost:8080/api/ip", "origin lookup endpoint (empty to skip)")
	idle := pflag.Duration("idle", 15*time.Minute, "idle timeout before auto disconnect")
	verbose := pflag.Bool("verbose", false, "log at debug level")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	var sess *client.Session
	driver := client.NewDriver(
		func() (client.PeerLink, error) {
			return client.NewPeerLink(client.DefaultRTCConfig())
		},
		func(data []byte) { sess.SendRaw(data) },
	)
	driver.OnState = func(s client.CallState) {
		statusColor.Printf("* call: %s\n", s)
	}
	driver.OnRing = func() {
		noticeColor.Println("* incoming call: /accept or /reject")
	}
	driver.OnPeerMuted = func(muted bool) {
		statusColor.Printf("* partner muted: %v\n", muted)
	}

	sess = client.NewSession(client.Config{
		URL:         *url,
		IPEndpoint:  *ipEndpoint,
		UserAgent:   "ghostpair-cli",
		IdleTimeout: *idle,
	}, client.Events{
		OnStatus: func(s client.Status) {
			statusColor.Printf("* %s\n", s)
		},
		OnNotice: func(text string) {
			noticeColor.Printf("* %s\n", text)
		},
		OnMessage: func(text, reply string) {
			if reply != "" {
				partnerColor.Printf("stranger (re: %s): %s\n", reply, text)
				return
			}
			partnerColor.Printf("stranger: %s\n", text)
		},
		OnTyping: func() {
			statusColor.Println("* stranger is typing...")
		},
		OnPartnerEnded: func() {
			noticeColor.Println("* partner ended the chat, searching for a new user...")
		},
		OnSignal: func(msg protocol.Message) {
			driver.HandleSignal(msg)
		},
	})

	go sess.Run(ctx)

	fmt.Println("ghostpair: type to chat; /end /new /call /accept /reject /hangup /video /mute /unmute /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sess.Activity()

		switch line {
		case "/quit":
			cancel()
			return
		case "/end":
			sess.EndChat()
		case "/new":
			sess.NewPartner()
		case "/call":
			sess.Do(driver.RequestCall)
		case "/accept":
			sess.Do(driver.AcceptCall)
		case "/reject":
			sess.Do(driver.RejectCall)
		case "/hangup":
			sess.Do(driver.Hangup)
		case "/video":
			sess.Do(func() {
				if err := driver.EnableVideo(); err != nil {
					noticeColor.Printf("* video failed: %v\n", err)
				}
			})
		case "/mute":
			sess.Do(func() { driver.SetMuted(true) })
		case "/unmute":
			sess.Do(func() { driver.SetMuted(false) })
		default:
			sess.SendChat(line, "")
			selfColor.Printf("you: %s\n", line)
		}
	}
}

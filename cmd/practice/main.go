// Command practice runs a conversation session in the terminal against a
// running server, using the local microphone and speaker.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/animator"
	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/config"
	"github.com/ken2274132-hash/Fluently-sub000/internal/device"
	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
	"github.com/ken2274132-hash/Fluently-sub000/internal/liveavatar"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

const (
	modeVoice  = "voice"
	modeAvatar = "avatar"
	modeVideo  = "video"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	server := flag.String("server", "http://localhost:8080", "practice server base URL")
	mode := flag.String("mode", modeVoice, "presentation: voice, avatar or video")
	greeting := flag.String("greeting", config.DefaultGreeting, "assistant opening line")
	avatarURL := flag.String("avatar-url", "", "live avatar session URL when the token carries none")
	verbose := flag.Bool("v", false, "log session internals")
	flag.Parse()

	if !*verbose {
		log.SetOutput(io.Discard)
	}
	if err := run(*server, strings.ToLower(*mode), *greeting, *avatarURL); err != nil {
		fmt.Fprintln(os.Stderr, "practice:", err)
		os.Exit(1)
	}
}

func run(server, mode, greeting, avatarURL string) error {
	switch mode {
	case modeVoice, modeAvatar, modeVideo:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := speech.NewClient(server)
	audio, err := device.NewAudio()
	if err != nil {
		return err
	}
	defer audio.Close()

	term := &terminal{}
	cfg := agent.Config{
		Pipeline: client,
		Recorder: capture.NewRecorder(audio.Microphone(capture.DefaultFormat)),
		Renderer: term,
		Greeting: greeting,
	}

	var avatar *liveavatar.Adapter
	if mode == modeVideo {
		avatar = liveavatar.NewAdapter(client, liveavatar.NewWSSession(avatarURL), liveavatar.Options{Listener: term})
		if err := avatar.Connect(ctx); err != nil {
			return fmt.Errorf("connect avatar: %w", err)
		}
		// A terminal start is the user gesture that unlocks playback.
		avatar.UserGesture()
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = avatar.Close(closeCtx)
		}()
		cfg.Output = avatar
	} else {
		out := &agent.SpeechOutput{Synth: client, Fallback: device.SystemVoice{}}
		if spk, err := device.NewSpeaker(); err == nil {
			out.Player = spk
		} else {
			term.println("speaker unavailable, using the system voice: " + err.Error())
		}
		cfg.Output = out
	}

	sess := agent.NewSession(cfg)
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.End()

	if mode == modeAvatar {
		loop := startFace(sess, term)
		defer loop.Stop()
	}

	term.println("Enter toggles recording. Type a sentence to send it, 'retry' to resend, 'quit' to leave.")
	lines := make(chan string)
	go readLines(lines)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(sess, term, line); done {
				return nil
			}
		}
	}
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// handleLine applies one line of terminal input. It reports whether the user quit.
func handleLine(sess *agent.Session, term *terminal, line string) bool {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "quit", "exit", "bye":
		return true
	case "retry":
		if err := sess.Retry(); err != nil {
			term.println(err.Error())
		}
	case "":
		if sess.Status() == agent.StatusListening {
			sess.Release()
			return false
		}
		if err := sess.Press(); err != nil {
			term.println(err.Error())
		}
	default:
		if err := sess.SendText(line); err != nil {
			term.println(err.Error())
		}
	}
	return false
}

// startFace prints a coarse mouth and eye readout of the animator output.
func startFace(sess *agent.Session, term *terminal) *level.Loop {
	rig := animator.NewDefaultRig()
	anim := animator.New(rig)
	began := time.Now()
	last := ""
	return level.StartLoop(time.Second/15, func(now time.Time) {
		status := sess.Status()
		if status == agent.StatusIdle {
			return
		}
		anim.Frame(animator.InputFor(status, sess.Level()), now.Sub(began).Seconds())
		face := faceOf(rig)
		if face != last {
			last = face
			term.status(face)
		}
	})
}

func faceOf(rig *animator.PoseRig) string {
	eyes := "o o"
	if rig.Morph(animator.MorphBlinkLeft) > 0.5 {
		eyes = "- -"
	}
	mouth := "_"
	switch jaw := rig.Morph(animator.MorphJawOpen); {
	case jaw > 0.5:
		mouth = "O"
	case jaw > 0.15:
		mouth = "o"
	}
	return fmt.Sprintf("(%s) %s", eyes, mouth)
}

// terminal renders session and avatar events as lines on stdout.
type terminal struct {
	mu sync.Mutex
}

func (t *terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Println(s)
}

func (t *terminal) status(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Printf("\r%-24s", s)
}

func (t *terminal) OnStateChange(s agent.Status) { t.println("[" + s.String() + "]") }
func (t *terminal) OnAudioLevel(float64)         {}

func (t *terminal) OnMessage(m speech.Message) {
	who := "you"
	if m.Role == speech.RoleAssistant {
		who = "partner"
	}
	t.println(who + ": " + m.Content)
}

func (t *terminal) OnNotice(msg string) {
	if msg != "" {
		t.println("! " + msg)
	}
}

// OnStatus mirrors the live avatar connection.
func (t *terminal) OnStatus(s agent.Status) { t.println("[avatar " + s.String() + "]") }

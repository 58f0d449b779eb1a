// Command radarctl sends key=value commands to a running radarsim over its
// websocket and optionally follows, records or replays its replies.
//
//	radarctl main_power=on servo_power=on antenna_mode=auto_ppi
//	radarctl -watch -kinds status
//	radarctl -watch -record beams.msgpack.zst
//	radarctl -replay beams.msgpack.zst
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/star/radarsim/internal/archive"
	"github.com/star/radarsim/internal/logging"
	"github.com/star/radarsim/internal/sim"
)

type options struct {
	addr     string
	token    string
	kinds    string
	watch    bool
	record   string
	replay   string
	timeout  time.Duration
	logLevel string
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "ws://localhost:8080/ws", "radarsim websocket URL")
	flag.StringVar(&opts.token, "token", os.Getenv("RADARSIM_AUTH_TOKEN"), "bearer token")
	flag.StringVar(&opts.kinds, "kinds", "", "reply kinds to follow with -watch (beam,status; default all)")
	flag.BoolVar(&opts.watch, "watch", false, "print replies until interrupted")
	flag.StringVar(&opts.record, "record", "", "with -watch, also record replies to this zstd msgpack file")
	flag.StringVar(&opts.replay, "replay", "", "print a recording and exit")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "how long to wait for the command ack")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: radarctl [flags] [key=value ...] (use - to read commands from stdin)\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.NewWithWriter(os.Stderr, opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if opts.replay != "" {
		err = replay(opts.replay, os.Stdout)
	} else {
		err = run(ctx, opts, flag.Args(), logger)
	}
	if err != nil {
		logger.Error("radarctl failed", "error", err)
		os.Exit(1)
	}
}

// commandArgs collects commands from the arguments, reading stdin for "-".
func commandArgs(args []string, stdin io.Reader) ([]sim.Command, error) {
	var lines []string
	for _, a := range args {
		if a != "-" {
			lines = append(lines, a)
			continue
		}
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	}
	return sim.ParseCommands(strings.Join(lines, "\n"))
}

func run(ctx context.Context, opts options, args []string, logger *slog.Logger) error {
	cmds, err := commandArgs(args, os.Stdin)
	if err != nil {
		return err
	}
	if len(cmds) == 0 && !opts.watch {
		flag.Usage()
		return errors.New("nothing to do: give commands or -watch")
	}

	u, err := url.Parse(opts.addr)
	if err != nil {
		return fmt.Errorf("invalid -addr: %w", err)
	}
	q := u.Query()
	q.Set("format", "msgpack")
	q.Set("kinds", opts.kinds)
	if !opts.watch {
		// Only acks are wanted; keep beams off the wire.
		q.Set("kinds", string(sim.KindStatus))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.token != "" {
		header.Set("Authorization", "Bearer "+opts.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (HTTP %d)", u.Redacted(), err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer conn.Close()
	logger.Info("connected", "addr", u.Redacted())

	// Unblock ReadMessage when interrupted.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	if len(cmds) > 0 {
		data, err := msgpack.Marshal(cmds)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return fmt.Errorf("sending commands: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(opts.timeout))
		if err := awaitAck(conn, os.Stdout); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Time{})
	}
	if !opts.watch {
		return nil
	}

	var rec *archive.Recorder
	if opts.record != "" {
		f, err := os.Create(opts.record)
		if err != nil {
			return err
		}
		defer f.Close()
		rec, err = archive.NewRecorder(f)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("closing recording", "error", err)
			}
			logger.Info("recording closed", "path", opts.record, "messages", rec.Count())
		}()
	}

	err = watch(conn, os.Stdout, rec)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// frame is the envelope shared by every server frame.
type frame struct {
	Type     string `msgpack:"type"`
	Accepted int    `msgpack:"accepted"`
	Error    string `msgpack:"error"`
}

func awaitAck(conn *websocket.Conn, out io.Writer) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for ack: %w", err)
		}
		var f frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decoding frame: %w", err)
		}
		if f.Type != "ack" {
			continue
		}
		fmt.Fprintf(out, "accepted %d command(s)\n", f.Accepted)
		if f.Error != "" {
			return fmt.Errorf("server rejected some commands: %s", f.Error)
		}
		return nil
	}
}

// watch prints beam and status replies as JSON lines until the connection
// ends.
func watch(conn *websocket.Conn, out io.Writer, rec *archive.Recorder) error {
	enc := json.NewEncoder(out)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var m sim.Message
		if err := msgpack.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decoding frame: %w", err)
		}
		if m.Kind != sim.KindBeam && m.Kind != sim.KindStatus {
			continue
		}
		if rec != nil {
			if err := rec.Record(m); err != nil {
				return err
			}
		}
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
}

// replay prints a recording as JSON lines.
func replay(path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := archive.NewPlayer(f)
	if err != nil {
		return err
	}
	defer p.Close()

	enc := json.NewEncoder(out)
	for {
		m, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
}

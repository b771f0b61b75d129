package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/streammesh/streamref/streamref"
)

const StreamrefCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Stream reference control.

A node either binds a websocket listener or dials one. Peers on the same
secret can exchange reference handles out of band (copy the printed
handle JSON) and run them across the link.

Usage:
    streamrefctl offer --bind=<bind> --secret=<secret>
        [--node_id=<node_id>]
        [--timeout=<timeout>]
    streamrefctl consume --url=<url> --secret=<secret>
        --handle=<handle>
        [--node_id=<node_id>]
    streamrefctl collect --bind=<bind> --secret=<secret>
        [--node_id=<node_id>]
        [--timeout=<timeout>]
    streamrefctl feed --url=<url> --secret=<secret>
        --handle=<handle>
        [--node_id=<node_id>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --bind=<bind>          Listen address, e.g. 127.0.0.1:8080.
    --url=<url>            Peer url, e.g. ws://127.0.0.1:8080.
    --secret=<secret>      Shared link secret.
    --node_id=<node_id>    Node id. Generated when omitted.
    --timeout=<timeout>    Subscription timeout in seconds.
    --handle=<handle>      Handle JSON printed by offer or collect.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], StreamrefCtlVersion)
	if err != nil {
		panic(err)
	}

	if offer_, _ := opts.Bool("offer"); offer_ {
		offer(opts)
	} else if consume_, _ := opts.Bool("consume"); consume_ {
		consume(opts)
	} else if collect_, _ := opts.Bool("collect"); collect_ {
		collect(opts)
	} else if feed_, _ := opts.Bool("feed"); feed_ {
		feed(opts)
	}
}

// offer allocates a source ref fed from stdin and serves it to whichever
// peer dials in and materializes the handle.
func offer(opts docopt.Opts) {
	ctx := context.Background()
	manager := listenNode(ctx, opts)
	defer manager.Close()

	handle, writer := manager.AllocateSourceRefWithTimeout(timeoutOpt(opts))
	printHandle(handle.String(), mustJson(handle))

	pumpStdin(ctx, writer)
}

// consume dials the offering node and prints the stream.
func consume(opts docopt.Opts) {
	ctx := context.Background()
	manager := dialNode(ctx, opts)
	defer manager.Close()

	handleJson, _ := opts.String("--handle")
	handle, err := streamref.ParseSourceRefHandle([]byte(handleJson))
	if err != nil {
		Err.Fatalf("Bad handle: %s", err)
	}
	reader, err := manager.MaterializeSource(handle)
	if err != nil {
		Err.Fatalf("Materialize error: %s", err)
	}

	pumpStdout(ctx, reader)
}

// collect allocates a sink ref and prints whatever the materializing
// peer feeds it.
func collect(opts docopt.Opts) {
	ctx := context.Background()
	manager := listenNode(ctx, opts)
	defer manager.Close()

	handle, reader := manager.AllocateSinkRefWithTimeout(timeoutOpt(opts))
	printHandle(handle.String(), mustJson(handle))

	pumpStdout(ctx, reader)
}

// feed dials the collecting node and streams stdin into the sink ref.
func feed(opts docopt.Opts) {
	ctx := context.Background()
	manager := dialNode(ctx, opts)
	defer manager.Close()

	handleJson, _ := opts.String("--handle")
	handle, err := streamref.ParseSinkRefHandle([]byte(handleJson))
	if err != nil {
		Err.Fatalf("Bad handle: %s", err)
	}
	writer, err := manager.MaterializeSink(handle)
	if err != nil {
		Err.Fatalf("Materialize error: %s", err)
	}

	pumpStdin(ctx, writer)
}

func listenNode(ctx context.Context, opts docopt.Opts) *streamref.Manager {
	bind, _ := opts.String("--bind")
	nodeId := nodeIdOpt(opts)
	secret := secretOpt(opts)

	messenger := streamref.NewLinkMessengerWithDefaults(ctx, nodeId, secret)
	go func() {
		if err := http.ListenAndServe(bind, messenger.Handler()); err != nil {
			Err.Fatalf("Listen error: %s", err)
		}
	}()
	Err.Printf("node %s listening on %s", nodeId, bind)

	return streamref.NewManagerWithDefaults(ctx, nodeId, messenger)
}

func dialNode(ctx context.Context, opts docopt.Opts) *streamref.Manager {
	url, _ := opts.String("--url")
	nodeId := nodeIdOpt(opts)
	secret := secretOpt(opts)

	messenger := streamref.NewLinkMessengerWithDefaults(ctx, nodeId, secret)
	peerId, err := messenger.Dial(ctx, url)
	if err != nil {
		Err.Fatalf("Dial error: %s", err)
	}
	Err.Printf("node %s linked to %s", nodeId, peerId)

	return streamref.NewManagerWithDefaults(ctx, nodeId, messenger)
}

func pumpStdin(ctx context.Context, writer *streamref.RefWriter) {
	prompt := term.IsTerminal(int(os.Stdin.Fd()))
	if prompt {
		Err.Printf("type elements, one per line; ctrl-d to complete")
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		if prompt {
			os.Stderr.WriteString("> ")
		}
		if !in.Scan() {
			break
		}
		if err := writer.Write(ctx, []byte(in.Text())); err != nil {
			Err.Fatalf("Write error: %s", err)
		}
	}
	if err := in.Err(); err != nil {
		writer.Fail(err)
		Err.Fatalf("Read stdin error: %s", err)
	}
	if err := writer.Close(); err != nil {
		Err.Fatalf("Close error: %s", err)
	}
	stats := writer.Stats()
	Err.Printf("sent %d elements (%d bytes)", stats.ElementsSent(), stats.BytesSent())
}

func pumpStdout(ctx context.Context, reader *streamref.RefReader) {
	for {
		element, err := reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			Err.Fatalf("Read error: %s", err)
		}
		Out.Printf("%s", string(element))
	}
	stats := reader.Stats()
	Err.Printf("received %d elements (%d bytes)", stats.ElementsReceived(), stats.BytesReceived())
}

func nodeIdOpt(opts docopt.Opts) streamref.Id {
	if nodeIdStr, err := opts.String("--node_id"); err == nil && nodeIdStr != "" {
		nodeId, err := streamref.ParseId(nodeIdStr)
		if err != nil {
			Err.Fatalf("Bad node_id: %s", err)
		}
		return nodeId
	}
	return streamref.NewId()
}

func secretOpt(opts docopt.Opts) []byte {
	secret, _ := opts.String("--secret")
	if secret == "" {
		Err.Fatalf("Missing secret.")
	}
	return []byte(secret)
}

func timeoutOpt(opts docopt.Opts) time.Duration {
	if timeoutStr, err := opts.String("--timeout"); err == nil && timeoutStr != "" {
		timeoutSeconds, err := strconv.ParseFloat(timeoutStr, 64)
		if err != nil {
			Err.Fatalf("Bad timeout: %s", err)
		}
		return time.Duration(timeoutSeconds * float64(time.Second))
	}
	return streamref.DefaultSessionSettings().SubscriptionTimeout
}

func printHandle(summary string, handleJson []byte) {
	Err.Printf("%s", summary)
	Out.Printf("%s", string(handleJson))
}

func mustJson(handle any) []byte {
	handleJson, err := json.Marshal(handle)
	if err != nil {
		panic(err)
	}
	return handleJson
}

package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// scannerInitialBufSize/scannerMaxBufSize mirror the sizing the outbound
// HTTP client uses for its own line scanner; the max is raised to track
// MaxRequestSize at construction time in serveStdio.
const scannerInitialBufSize = 256 * 1024

// serveStdio runs the stdio frontend (§4.4 step 3) over os.Stdin/os.Stdout.
func (p *Proxy) serveStdio(ctx context.Context) error {
	return p.serveStdioOn(ctx, os.Stdin, os.Stdout)
}

// serveStdioOn is serveStdio with the stream sources injected, so tests
// can drive it without the process's real stdin/stdout: newline-delimited
// JSON in, one response (or a synthesized error) out per line, each
// routed to the backend under a per-request RequestTimeout. It returns
// nil on input EOF, which is the frontend's normal shutdown signal.
func (p *Proxy) serveStdioOn(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	maxBuf := p.cfg.MaxRequestSize + 1
	if maxBuf < scannerInitialBufSize {
		maxBuf = scannerInitialBufSize
	}
	scanner.Buffer(make([]byte, scannerInitialBufSize), maxBuf)

	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if len(line) > p.cfg.MaxRequestSize {
			_ = enc.Encode(jsonrpc.NewErrorResponse(jsonrpc.ID{}, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "request too large")))
			continue
		}

		msg, err := jsonrpc.Parse(line)
		if err != nil {
			_ = enc.Encode(jsonrpc.NewErrorResponse(jsonrpc.ID{}, jsonrpc.NewError(jsonrpc.CodeParseError, "parse error")))
			continue
		}
		req, ok := msg.(*jsonrpc.Request)
		if !ok {
			continue // a notification has no response to write
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		resp := p.service.Route(reqCtx, req)
		cancel()

		_ = enc.Encode(resp)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			_ = enc.Encode(jsonrpc.NewErrorResponse(jsonrpc.ID{}, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "request too large")))
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

func TestServer_ServeEndOfInput(t *testing.T) {
	server, _ := newTestServer(t)

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(context.Background(), strings.NewReader(""), &out)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil at end of input", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return at end of input")
	}
}

func TestServer_ServeCanceled(t *testing.T) {
	server, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a reader that never delivers a line
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, pr, &out)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after context cancel")
	}
}

func TestServer_ToolsList(t *testing.T) {
	server, _ := newTestServer(t)

	request := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	response := server.mcpServer.HandleMessage(context.Background(), request)
	if response == nil {
		t.Fatal("tools/list returned no response")
	}
	data, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	for _, name := range []string{
		"ptd_build_hierarchy",
		"ptd_extract_forms",
		"ptd_parse_schedule",
		"ptd_generate",
		"ptd_validate_pdf",
		"ptd_server_info",
	} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tools/list should include %s", name)
		}
	}
}

func TestServer_ToolsCall(t *testing.T) {
	server, _ := newTestServer(t)

	request := json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ptd_server_info","arguments":{}}}`)
	response := server.mcpServer.HandleMessage(context.Background(), request)
	data, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	if !strings.Contains(string(data), "test-server v1.0.0") {
		t.Errorf("unexpected tools/call response: %s", data)
	}
}

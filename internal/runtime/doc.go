// Package runtime implements the gateway endpoint: a single POST route that
// relays chat requests to one remote agent and streams the answer back.
//
// The runtime adds no protocol logic. Request bodies are forwarded byte for
// byte, upstream status codes and headers are preserved (minus hop-by-hop
// headers), and the response is flushed chunk by chunk so Server-Sent Events
// arrive as the agent produces them. The only locally generated error is
// 502 when the remote agent cannot be reached.
//
//	rt, _ := runtime.New(runtime.Options{
//	    RemoteEndpoints: []runtime.RemoteEndpoint{{URL: "http://localhost:8080/copilotkit"}},
//	})
//	mux.Handle("/api/copilotkit", rt.Endpoint("/api/copilotkit", runtime.EmptyAdapter{}))
package runtime

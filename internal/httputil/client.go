package httputil

import (
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Doer is the subset of http.Client used by the camera and detector
// clients. Production code passes an *http.Client; tests pass a MockClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient returns an http.Client for request/response calls such as
// detector inference, with an overall deadline on each request.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

// NewStreamClient returns an http.Client for long-lived streams such as
// MJPEG. The overall timeout stays zero so the body can be read
// indefinitely; only dialing and response headers are bounded.
func NewStreamClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 10 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
		},
	}
}

// MockClient is a Doer that replays canned replies in FIFO order and
// records every request it sees.
type MockClient struct {
	// DoFunc, when set, handles every request and bypasses the queue.
	DoFunc func(req *http.Request) (*http.Response, error)

	mu    sync.Mutex
	queue []mockReply
	reqs  []*http.Request
}

type mockReply struct {
	status int
	body   string
	err    error
}

// NewMockClient returns an empty MockClient. With nothing queued it
// answers 200 with an empty body.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AddResponse queues a reply with the given status and body.
func (m *MockClient) AddResponse(statusCode int, body string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{status: statusCode, body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockClient) AddErrorResponse(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// Do records req and pops the next queued reply.
func (m *MockClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reqs = append(m.reqs, req)

	if m.DoFunc != nil {
		return m.DoFunc(req)
	}

	reply := mockReply{status: http.StatusOK}
	if len(m.queue) > 0 {
		reply = m.queue[0]
		m.queue = m.queue[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &http.Response{
		StatusCode: reply.status,
		Body:       io.NopCloser(strings.NewReader(reply.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

// LastRequest returns the most recently recorded request, or nil.
func (m *MockClient) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reqs) == 0 {
		return nil
	}
	return m.reqs[len(m.reqs)-1]
}

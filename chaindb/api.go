package chaindb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultServer = "http://localhost:2818"
const ApiBase = "/api/v1"

type ApiSettings struct {
	HttpTimeout        time.Duration
	HttpConnectTimeout time.Duration
	HttpTlsTimeout     time.Duration
	// if set, used instead of a client built from the timeouts
	HttpClient *http.Client
}

func DefaultApiSettings() *ApiSettings {
	return &ApiSettings{
		HttpTimeout:        60 * time.Second,
		HttpConnectTimeout: 5 * time.Second,
		HttpTlsTimeout:     5 * time.Second,
	}
}

func (self *ApiSettings) client() *http.Client {
	if self.HttpClient != nil {
		return self.HttpClient
	}
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: self.HttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: self.HttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   self.HttpTimeout,
	}
}

// every http response from the server is wrapped in this envelope
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// api binds the round trips to one server and auth token
type api struct {
	ctx       context.Context
	client    *http.Client
	serverUrl string
	authToken string
}

func (self *api) url(path string) string {
	return fmt.Sprintf("%s%s%s", strings.TrimRight(self.serverUrl, "/"), ApiBase, path)
}

// returns the decoded data and whether the envelope carried any data.
// `success=false` is returned as a `*serverError` with the server message
func post[R any](a *api, path string, args any) (result R, present bool, err error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			return
		}
	}

	req, err := http.NewRequestWithContext(a.ctx, http.MethodPost, a.url(path), bytes.NewReader(requestBodyBytes))
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")

	return roundTrip[R](a, req)
}

func get[R any](a *api, path string) (result R, present bool, err error) {
	req, err := http.NewRequestWithContext(a.ctx, http.MethodGet, a.url(path), nil)
	if err != nil {
		return
	}

	return roundTrip[R](a, req)
}

func roundTrip[R any](a *api, req *http.Request) (result R, present bool, err error) {
	req.Header.Add("Accept", "application/json")
	if a.authToken != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Basic %s", a.authToken))
	}

	r, err := a.client.Do(req)
	if err != nil {
		return
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}

	var env envelope
	if jsonErr := json.Unmarshal(responseBodyBytes, &env); jsonErr != nil {
		if r.StatusCode < 200 || 300 <= r.StatusCode {
			// the response body is the error message
			message := strings.TrimSpace(string(responseBodyBytes))
			if message == "" {
				message = r.Status
			}
			err = errors.New(message)
		} else {
			err = fmt.Errorf("malformed response envelope: %w", jsonErr)
		}
		return
	}

	if !env.Success {
		err = &serverError{message: env.Message}
		return
	}

	if isNull(env.Data) {
		return
	}

	if err = json.Unmarshal(env.Data, &result); err != nil {
		err = fmt.Errorf("malformed response data: %w", err)
		return
	}
	present = true
	return
}

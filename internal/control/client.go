package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"
)

const queryTimeout = 3 * time.Second

// Query sends one request to the endpoint at path and returns its response.
// Used by CLI subcommands talking to a running instance.
func Query(path string, req Request) (Response, error) {
	if path == "" {
		path = DefaultPath()
	}
	conn, err := dial(path, queryTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("control: connecting to %s: %w", path, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	_ = conn.SetDeadline(time.Now().Add(queryTimeout))
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return Response{}, err
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("control: bad response: %w", err)
	}
	return resp, nil
}

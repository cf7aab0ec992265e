// Command claim_race fires concurrent one-shot claims for the same topic from
// distinct students and checks that exactly one of them wins.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type claimRequest struct {
	Mode       string  `json:"mode"`
	Students   []login `json:"students"`
	TopicID    string  `json:"topic_id,omitempty"`
	Credential string  `json:"credential"`
}

type outcome struct {
	Username string
	Status   int
	Code     string
	Duration time.Duration
}

func main() {
	var (
		base       string
		topicID    string
		credential string
		students   string
		password   string
		timeout    time.Duration
	)
	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&topicID, "topic", "", "Topic ID to claim")
	flag.StringVar(&credential, "credential", "", "Claim credential")
	flag.StringVar(&students, "students", "", "Comma separated usernames, one racer each")
	flag.StringVar(&password, "password", "", "Password shared by the racers")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	usernames := splitList(students)
	if credential == "" || len(usernames) < 2 {
		log.Fatal("need -credential and at least two -students")
	}

	client := &http.Client{Timeout: timeout}
	outcomes := make([]outcome, len(usernames))
	start := make(chan struct{})
	var ready sync.WaitGroup
	ready.Add(len(usernames))

	g, ctx := errgroup.WithContext(context.Background())
	for i, username := range usernames {
		i, username := i, username
		g.Go(func() error {
			ready.Done()
			<-start
			res, err := claim(ctx, client, base, claimRequest{
				Mode:       "individual",
				Students:   []login{{Username: username, Password: password}},
				TopicID:    topicID,
				Credential: credential,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", username, err)
			}
			res.Username = username
			outcomes[i] = res
			return nil
		})
	}
	ready.Wait()
	close(start)
	if err := g.Wait(); err != nil {
		log.Fatalf("race aborted: %v", err)
	}

	winners := 0
	for _, o := range outcomes {
		fmt.Printf("%-16s %d %-22s %s\n", o.Username, o.Status, o.Code, o.Duration.Round(time.Millisecond))
		if o.Status == http.StatusCreated {
			winners++
		}
	}
	fmt.Printf("\nracers=%d winners=%d\n", len(outcomes), winners)
	if winners != 1 {
		os.Exit(1)
	}
}

func claim(ctx context.Context, client *http.Client, base string, body claimRequest) (outcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return outcome{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/registrations", bytes.NewReader(payload))
	if err != nil {
		return outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return outcome{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome{}, err
	}

	res := outcome{Status: resp.StatusCode, Duration: time.Since(began)}
	var env struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		res.Code = env.Error.Code
	}
	return res, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

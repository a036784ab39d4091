package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// createMatchResponse is the envelope returned by the match API
type createMatchResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ID       string  `json:"id"`
		RoomCode string  `json:"room_code"`
		Sequence []int64 `json:"game_sequence"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

type joinResponse struct {
	Success bool `json:"success"`
	Data    struct {
		MembershipID string `json:"membership_id"`
	} `json:"data"`
}

type resultsRequest struct {
	GameIndex           int      `json:"game_index"`
	WinnerMembershipIDs []string `json:"winner_membership_ids"`
	Points              int64    `json:"points"`
}

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

var (
	requestCount int64
	errorCount   int64
	matchCount   int64
)

type client struct {
	base string
	http *http.Client
}

// call sends a JSON request as the given user and decodes the envelope into out
func (c *client) call(method, path, userID string, body, out interface{}) error {
	atomic.AddInt64(&requestCount, 1)

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		atomic.AddInt64(&errorCount, 1)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		atomic.AddInt64(&errorCount, 1)
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// runLifecycle drives one match from creation through the final game
func (c *client) runLifecycle(workerID, matchIdx, players int) error {
	hostID := playerName(workerID*1000 + matchIdx*100)

	var created createMatchResponse
	err := c.call("POST", "/api/v1/matches", hostID, map[string]interface{}{
		"name": fmt.Sprintf("Load Match %d-%d", workerID, matchIdx),
	}, &created)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	code := created.Data.RoomCode
	base := "/api/v1/matches/" + code

	roster := make([]string, 0, players)
	for i := 0; i < players; i++ {
		userID := playerName(workerID*1000 + matchIdx*100 + i + 1)
		var joined joinResponse
		if err := c.call("POST", base+"/join", userID, nil, &joined); err != nil {
			return fmt.Errorf("join: %w", err)
		}
		roster = append(roster, joined.Data.MembershipID)
	}

	if err := c.call("POST", base+"/start", hostID, nil, nil); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	for gameIdx := 0; gameIdx < len(created.Data.Sequence); gameIdx++ {
		winner := roster[rand.Intn(len(roster))]
		req := resultsRequest{
			GameIndex:           gameIdx,
			WinnerMembershipIDs: []string{winner},
			Points:              int64(rand.Intn(50) + 10),
		}
		if err := c.call("POST", base+"/results", hostID, req, nil); err != nil {
			return fmt.Errorf("results: %w", err)
		}
		if err := c.call("POST", base+"/advance", hostID, nil, nil); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}

	// Read the final snapshot the way a results screen would
	if err := c.call("GET", base, "", nil, nil); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	atomic.AddInt64(&matchCount, 1)
	return nil
}

func main() {
	// Command line flags
	addr := flag.String("addr", "http://localhost:8080", "Match server base URL")
	totalMatches := flag.Int("matches", 100, "Total number of match lifecycles to run")
	players := flag.Int("players", 4, "Players per match (excluding the host)")
	concurrency := flag.Int("concurrency", 10, "Concurrent workers")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until match count reached)")
	flag.Parse()

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🎮 Matchpoint Load Generator")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Server:           %s\n", *addr)
	fmt.Printf("  Total Matches:    %d\n", *totalMatches)
	fmt.Printf("  Players/Match:    %d\n", *players)
	fmt.Printf("  Concurrency:      %d\n", *concurrency)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	c := &client{
		base: *addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(done) }) }

	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down...")
		stop()
	}()

	if *duration > 0 {
		go func() {
			select {
			case <-time.After(*duration):
				fmt.Println("\n\nDuration reached, shutting down...")
				stop()
			case <-done:
			}
		}()
	}

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-statsTicker.C:
				fmt.Printf("[%s] Matches: %d | Requests: %d | Errors: %d\n",
					time.Now().Format("15:04:05"),
					atomic.LoadInt64(&matchCount),
					atomic.LoadInt64(&requestCount),
					atomic.LoadInt64(&errorCount),
				)
			}
		}
	}()

	// Divide lifecycles across workers
	var next int64
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				idx := int(atomic.AddInt64(&next, 1)) - 1
				if *duration == 0 && idx >= *totalMatches {
					return
				}

				if err := c.runLifecycle(workerID, idx, *players); err != nil {
					log.Printf("lifecycle %d failed: %v", idx, err)
				}
			}
		}(w)
	}

	wg.Wait()
	stop()

	elapsed := time.Since(start)
	matches := atomic.LoadInt64(&matchCount)
	fmt.Printf("\n✓ Completed. Matches: %d | Requests: %d | Errors: %d | Elapsed: %s (%.1f matches/sec)\n",
		matches,
		atomic.LoadInt64(&requestCount),
		atomic.LoadInt64(&errorCount),
		elapsed.Round(time.Millisecond),
		float64(matches)/elapsed.Seconds(),
	)
}

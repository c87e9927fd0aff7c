// Package main submits a demo trace and prints its progress stream.
//
// It reads a points file (one x,y pair per line) when given as the first
// argument and otherwise traces a unit square. AUTH_TOKEN is sent as a
// bearer token when set.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"routetrace/internal/integrations/csvfile"
	"routetrace/internal/model"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	token := os.Getenv("AUTH_TOKEN")

	req := model.TraceRequest{Name: "demo", Shape: [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}
	if len(os.Args) > 1 {
		f, err := os.Open(os.Args[1])
		if err != nil {
			log.Fatal(err)
		}
		pts, err := csvfile.Source{R: f}.ReadShape(context.Background())
		_ = f.Close()
		if err != nil {
			log.Fatal(err)
		}
		req.Shape = make([][2]float64, len(pts))
		for i, p := range pts {
			req.Shape[i] = [2]float64(p)
		}
	}
	body, _ := json.Marshal(req)
	hreq, _ := http.NewRequest(http.MethodPost, base+"/v1/traces", bytes.NewReader(body))
	hreq.Header.Set("Content-Type", "application/json")
	hdr := http.Header{}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
		hdr.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(hreq)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("create trace: %s", resp.Status)
	}
	var tr model.Trace
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		log.Fatal(err)
	}
	log.Printf("Trace ID: %s", tr.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/traces/" + tr.ID + "/events/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	_ = c.SetReadDeadline(time.Now().Add(10 * time.Minute))
	for {
		var evt model.TraceEvent
		if err := c.ReadJSON(&evt); err != nil {
			log.Printf("stream closed: %v", err)
			return
		}
		data, _ := json.Marshal(evt.Data)
		log.Printf("WS <- %s: %s", evt.Type, data)
	}
}

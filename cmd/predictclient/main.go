package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "audio-authenticity-service/internal/api/grpc"
)

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to an audio file (wav, mp3, flac, ogg, m4a)")
	serverURL := flag.String("server", "http://localhost:5001", "HTTP API base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "gRPC health address; empty skips the check")
	timeout := flag.Duration("timeout", 90*time.Second, "Request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *grpcAddr != "" {
		checkHealth(ctx, *grpcAddr)
	}

	body, contentType, err := buildUpload(*audioFile)
	if err != nil {
		log.Fatalf("Failed to prepare upload: %v", err)
	}
	log.Printf("Uploading %s (%d bytes)", *audioFile, body.Len())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *serverURL+"/v1/predict", body)
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") != nil {
		pretty.Write(raw)
	}
	log.Printf("HTTP %d in %v", resp.StatusCode, time.Since(start).Round(time.Millisecond))
	fmt.Println(pretty.String())

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func checkHealth(ctx context.Context, addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: grpcapi.ServiceName,
	})
	if err != nil {
		log.Printf("Health check failed: %v", err)
		return
	}
	log.Printf("Classifier health: %s", resp.GetStatus())
}

func buildUpload(path string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAudio/pkg/logging"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/datatypes"
	"github.com/AleutianAI/AleutianAudio/services/audio_ingest/ingest"
)

var (
	serverURL string
	logLevel  string
	logger    *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "audioctl",
		Short: "A CLI to manage the Aleutian audio deduplication service",
		Long: `audioctl uploads audio files into the ingest service, inspects
similarity warnings, and tails live similarity events.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(logging.Config{
				Level:   logging.ParseLevel(logLevel),
				Service: "audioctl",
			})
		},
	}

	uploadCmd = &cobra.Command{
		Use:   "upload [file]...",
		Short: "Upload one or more audio files",
		Long: `Uploads each file to the ingest service. Byte-identical duplicates
are rejected by the server; perceptual analysis runs asynchronously after a
successful upload.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	warningsCmd = &cobra.Command{
		Use:   "warnings [audioId]",
		Short: "List similarity warnings, globally or for one file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWarnings,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [audioId]",
		Short: "Tail live similarity events for one file",
		Long: `Opens the server's event stream and prints each similarity event as
it is detected. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the ingest service is up",
		RunE:  runHealth,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("AUDIO_INGEST_URL", "http://localhost:12230"), "Ingest service base URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(warningsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(healthCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runUpload(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Minute}

	for _, path := range args {
		mediaType := ingest.MediaTypeForPath(path)
		if mediaType == "" {
			logger.Warn("skipping file with unsupported extension", "path", path)
			continue
		}

		resp, err := uploadOne(client, path, mediaType)
		if err != nil {
			return err
		}
		if resp.Duplicate {
			fmt.Printf("%s: duplicate (already uploaded)\n", filepath.Base(path))
		} else {
			fmt.Printf("%s: accepted, audioId=%s\n", filepath.Base(path), resp.AudioID)
		}
	}
	return nil
}

func uploadOne(client *http.Client, path, mediaType string) (*datatypes.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(
		`form-data; name="file"; filename="%s"`, filepath.Base(path)))
	hdr.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/v1/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	logger.Debug("uploading", "path", path, "media_type", mediaType)
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	switch httpResp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		var out datatypes.UploadResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding upload response: %w", err)
		}
		return &out, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("server rejected %s: %s (%s)",
			path, httpResp.Status, strings.TrimSpace(string(msg)))
	}
}

func runWarnings(cmd *cobra.Command, args []string) error {
	url := serverURL + "/v1/upload/warnings"
	if len(args) == 1 {
		url = fmt.Sprintf("%s/v1/upload/%s/warnings", serverURL, args[0])
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("querying warnings: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		Warnings []datatypes.WarningView `json:"warnings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding warnings: %w", err)
	}

	if len(payload.Warnings) == 0 {
		fmt.Println("No similarity warnings.")
		return nil
	}
	for _, w := range payload.Warnings {
		fmt.Printf("%.2f%%  %s (%s)  <->  %s (%s)  at %s\n",
			w.SimilarityPercent,
			w.File1.Filename, w.File1.ID,
			w.File2.Filename, w.File2.ID,
			w.DetectedAt.Format(time.RFC3339))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/v1/upload/%s/subscribe", serverURL, args[0])
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event datatypes.SimilarityEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			logger.Warn("skipping malformed event", "error", err)
			continue
		}
		switch event.Type {
		case "connected":
			fmt.Println("Connected. Waiting for similarity events...")
		case "similarity_detected":
			fmt.Printf("similarity detected: %s <-> %s (%.2f%%)\n",
				event.File1.Filename, event.File2.Filename, event.SimilarityPercent)
		}
	}
	return scanner.Err()
}

func runHealth(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy: %s", resp.Status)
	}
	fmt.Println("Service is healthy.")
	return nil
}

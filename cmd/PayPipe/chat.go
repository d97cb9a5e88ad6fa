package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/PayPipe/internal/lockfile"
	"github.com/BTreeMap/PayPipe/internal/messaging"
	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const chatHelp = `Type a message and press enter.
  /file <path>   send a file as a document
  /quit          leave the chat`

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	replyColor  = color.New(color.FgGreen)
	noticeColor = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
)

func newChatCmd(configFile *string) *cobra.Command {
	var from string
	var memory bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the conversation engine from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if memory {
				cfg.DatabaseURL = "memory"
			}
			initializeLogger(cfg.LogLevel)
			if err := ensureStateDir(cfg); err != nil {
				return err
			}
			if cfg.usesStateDir() {
				lock, err := lockfile.AcquireLock(cfg.StateDir, "chat")
				if err != nil {
					return err
				}
				defer lock.Release()
			}

			classifier, err := newClassifier(cfg)
			if err != nil {
				return err
			}
			core, err := buildApp(cfg, classifier, nil)
			if err != nil {
				return err
			}
			defer core.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runChat(ctx, core.router, cmd.InOrStdin(), cmd.OutOrStdout(), from)
		},
	}
	cmd.Flags().StringVar(&from, "as", "+15550000000", "phone number to chat as")
	cmd.Flags().BoolVar(&memory, "memory", false, "keep conversation state in memory only")
	return cmd
}

// runChat feeds each input line to replier until EOF, /quit or ctx ends.
func runChat(ctx context.Context, replier messaging.Replier, in io.Reader, out io.Writer, from string) error {
	from, err := messaging.CanonicalizeRecipient(from)
	if err != nil {
		return fmt.Errorf("invalid --as number: %w", err)
	}
	noticeColor.Fprintln(out, chatHelp)

	scanner := bufio.NewScanner(in)
	for {
		promptColor.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		msg := &models.Message{ID: uuid.NewString(), From: from, Body: line, Time: time.Now().Unix()}
		if path, ok := strings.CutPrefix(line, "/file "); ok {
			doc, err := readDocument(strings.TrimSpace(path))
			if err != nil {
				errorColor.Fprintln(out, err)
				continue
			}
			msg.Body = ""
			msg.Document = doc
		}

		reply, err := replier.Handle(ctx, msg)
		if err != nil {
			errorColor.Fprintln(out, "error:", err)
			continue
		}
		replyColor.Fprintln(out, "bot> "+reply)
	}
}

func readDocument(path string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.Size() > messaging.MaxDocumentBytes {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, messaging.MaxDocumentBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &models.Document{Filename: filepath.Base(path), MimeType: mimeType, Data: data}, nil
}

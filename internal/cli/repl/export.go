package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"docpipe/internal/cli/command"
	pkgerrors "docpipe/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const exportPageSize = 100

// runExport pages through a service's dead letters and writes them to a
// zstd-compressed JSONL file, one record per line.
func (s *Session) runExport(ctx context.Context, params command.Params) error {
	service := params.Get("service")
	filePath := params.Get("file")
	if service == "" || filePath == "" {
		return fmt.Errorf("service and file are required")
	}

	out, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create export file failed: %w", err)
	}
	defer func() { _ = out.Close() }()

	writer, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("init zstd writer failed: %w", err)
	}

	var exported int64
	offset := 0
	for {
		items, total, err := s.fetchPage(ctx, service, offset)
		if err != nil {
			_ = writer.Close()
			return err
		}
		for _, item := range items {
			if _, err := writer.Write(append(item, '\n')); err != nil {
				_ = writer.Close()
				return fmt.Errorf("write export file failed: %w", err)
			}
			exported++
		}
		offset += len(items)
		if len(items) == 0 || int64(offset) >= total {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush export file failed: %w", err)
	}
	s.printLine("exported %d records to %s", exported, filePath)
	return nil
}

func (s *Session) fetchPage(ctx context.Context, service string, offset int) ([]json.RawMessage, int64, error) {
	query := url.Values{}
	query.Set("service", service)
	query.Set("limit", fmt.Sprintf("%d", exportPageSize))
	query.Set("offset", fmt.Sprintf("%d", offset))

	resp, err := s.client.Do(ctx, "GET", "/api/v1/deadletters?"+query.Encode(), nil, nil)
	if err != nil {
		return nil, 0, err
	}

	type pageData struct {
		Items []json.RawMessage `json:"items"`
		Total int64             `json:"total"`
	}
	type respEnvelope struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Data    pageData `json:"data"`
	}
	var envelope respEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, 0, fmt.Errorf("parse list response failed: %w", err)
	}
	if envelope.Code != int(pkgerrors.Success) {
		return nil, 0, fmt.Errorf("list dead letters failed: %s", envelope.Message)
	}
	return envelope.Data.Items, envelope.Data.Total, nil
}

package runninghub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"rh-orchestrator/core/models"
)

const downloadChunkSize = 256 * 1024

// DownloadArtifact streams rawURL into destDir/filename. The body goes to a
// temp file in destDir that is renamed into place only after the last byte
// is written, so the final path either holds the whole artifact or does not
// exist. ctx is checked before every chunk. If the target already exists and
// overwrite is false, the existing path is returned without a request.
func (c *Client) DownloadArtifact(ctx context.Context, rawURL, destDir, filename string, overwrite bool) (string, error) {
	const op = "download"

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("%s: create %s: %w", op, destDir, err)
	}
	target, err := filepath.Abs(filepath.Join(destDir, SafeFilename(filename)))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return target, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, context.Cause(ctx))
	}

	// The request timeout bounds the wait for response headers only; the
	// body may stream for as long as ctx allows.
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	headerTimer := time.AfterFunc(c.requestTimeout, cancel)

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		headerTimer.Stop()
		return "", fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.http.Do(req)
	timedOut := !headerTimer.Stop()
	if err != nil {
		err = c.downloadError(ctx, err, timedOut)
		c.record(ctx, op, err)
		return "", err
	}
	defer resp.Body.Close()
	if timedOut {
		err = c.downloadError(ctx, errors.New("no response headers before request timeout"), true)
		c.record(ctx, op, err)
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		err = &models.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: truncate(body)}
		c.record(ctx, op, err)
		return "", err
	}

	err = writeAtomically(ctx, resp.Body, target)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%s: %w", op, context.Cause(ctx))
		} else {
			err = &models.RemoteError{Op: op, StatusCode: resp.StatusCode, Err: err}
		}
	}
	c.record(ctx, op, err)
	if err != nil {
		return "", err
	}
	return target, nil
}

func (c *Client) downloadError(ctx context.Context, err error, timedOut bool) error {
	if ctx.Err() != nil {
		return fmt.Errorf("download: %w", context.Cause(ctx))
	}
	if timedOut {
		return &models.RemoteError{Op: "download", Err: fmt.Errorf("request timeout after %s: %w", c.requestTimeout, err)}
	}
	return &models.RemoteError{Op: "download", Err: err}
}

func writeAtomically(ctx context.Context, r io.Reader, target string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	buf := make([]byte, downloadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

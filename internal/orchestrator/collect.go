package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	perrors "github.com/fileworks/previewd/internal/errors"
	"github.com/fileworks/previewd/internal/observability"
	"github.com/fileworks/previewd/internal/queue"
	"github.com/fileworks/previewd/internal/sandbox"
	"github.com/fileworks/previewd/internal/sanitize"
)

// resultManifest is what the processor leaves behind as result.json. Every
// field is untrusted.
type resultManifest struct {
	Thumbnail   string `json:"thumbnail,omitempty"`
	Text        string `json:"text,omitempty"`
	Unsupported bool   `json:"unsupported,omitempty"`
}

// collect reads the raw artifacts out of the volume, pushes them through the
// sanitizer and persists the thumbnail. helperOutput, when present, is the CAD
// helper's converted artifact and takes the place of the processor thumbnail.
func (o *Orchestrator) collect(ctx context.Context, job *queue.Job, vol *sandbox.Volume, helperOutput []byte) (queue.Result, error) {
	raw, err := os.ReadFile(filepath.Join(vol.Path, "result.json"))
	if err != nil {
		return queue.Result{}, missingArtifacts(job, "result manifest missing after successful run")
	}
	var m resultManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return queue.Result{}, missingArtifacts(job, "result manifest unparsable: "+err.Error())
	}

	if m.Unsupported {
		// The processor does not handle this format; the job completes rather
		// than cycling through retries. A thumbnail the helper already
		// converted is still kept when it survives sanitization.
		if len(helperOutput) > 0 {
			ref, err := o.storeThumbnail(ctx, job, helperOutput)
			if err != nil {
				if perrors.IsRetryable(err) {
					return queue.Result{}, err
				}
				observability.WarnContext(ctx, "dropping rejected helper output for unsupported format",
					slog.String("error", err.Error()))
				return queue.Result{}, nil
			}
			return queue.Result{ThumbnailRef: ref}, nil
		}
		observability.InfoContext(ctx, "unsupported format, completing without artifacts")
		return queue.Result{}, nil
	}

	rawThumb := helperOutput
	if rawThumb == nil && m.Thumbnail != "" {
		rawThumb, err = os.ReadFile(filepath.Join(vol.Path, filepath.Base(m.Thumbnail)))
		if err != nil {
			return queue.Result{}, missingArtifacts(job, "manifest names thumbnail but file is unreadable")
		}
	}

	var rawText []byte
	if m.Text != "" {
		rawText, err = os.ReadFile(filepath.Join(vol.Path, filepath.Base(m.Text)))
		if err != nil {
			return queue.Result{}, missingArtifacts(job, "manifest names text but file is unreadable")
		}
	}

	if rawThumb == nil && rawText == nil {
		return queue.Result{}, missingArtifacts(job, "successful run produced no artifacts")
	}

	var result queue.Result
	if rawThumb != nil {
		ref, err := o.storeThumbnail(ctx, job, rawThumb)
		if err != nil {
			return queue.Result{}, err
		}
		result.ThumbnailRef = ref
	}

	if rawText != nil {
		if job.Kind == queue.KindUnknown {
			text, err := sanitize.FallbackText(rawText, o.cfg.MinPrintableRatio, o.cfg.Text)
			if err != nil {
				o.recorder.IncSanitizerRejection("binary")
				return queue.Result{}, err
			}
			result.ExtractedText = text
		} else {
			result.ExtractedText = sanitize.Text(rawText, o.cfg.Text)
		}
	}

	return result, nil
}

// storeThumbnail pushes a raw thumbnail candidate through the image sanitizer
// and persists the canonical PNG. Storage failures come back retryable;
// sanitizer rejections do not.
func (o *Orchestrator) storeThumbnail(ctx context.Context, job *queue.Job, raw []byte) (string, error) {
	png, err := sanitize.Image(raw, o.cfg.Image)
	if err != nil {
		o.recorder.IncSanitizerRejection("image")
		return "", err
	}
	ref, err := o.artifacts.Put(ctx, "thumbnails/"+job.ID+".png", "image/png", png)
	if err != nil {
		return "", perrors.WrapRetryable(err, perrors.CategoryStorage, perrors.SeverityError,
			"store sanitized thumbnail")
	}
	return ref, nil
}

// readHelperOutput loads the converted artifact the helper left in the
// exchange directory.
func (o *Orchestrator) readHelperOutput(inputName string) ([]byte, error) {
	return os.ReadFile(o.exchange.OutputPath(inputName, o.cfg.HelperOutputExt))
}

// forwardProcessorLog relays the sandbox-side log into the trusted stream,
// line by line under the job id. Missing log is normal.
func (o *Orchestrator) forwardProcessorLog(ctx context.Context, vol *sandbox.Volume, jobID string) {
	data, err := os.ReadFile(filepath.Join(vol.Path, "processor.log"))
	if err != nil {
		return
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		observability.InfoContext(ctx, "processor", slog.String("line", line))
	}
}

package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/compoundkb/compoundmcp/internal/doctype"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/store"
)

// Promote sets the promotion level on a document and all of its chunks,
// then rewrites the file's promotion_level frontmatter field so disk and
// store agree. The store update is transactional; the file write follows
// it, and the resulting watcher event re-indexes the new bytes.
func (ix *Indexer) Promote(ctx context.Context, relPath, level string) error {
	promotion, ok := doctype.ParsePromotion(level)
	if !ok {
		return enginerr.Newf(enginerr.CodeSchemaValidationFailed,
			"invalid promotion level %q", level).
			WithDetail("allowed", doctype.PromotionValues)
	}

	doc, err := ix.store.GetDocumentByPath(ctx, ix.key, relPath)
	if err != nil {
		return err
	}
	if doc == nil {
		return enginerr.Newf(enginerr.CodeFileSystemError,
			"document %q is not indexed under the active project", relPath).
			WithSuggestion("check the relative path against the docs root")
	}

	if err := ix.store.UpdatePromotion(ctx, ix.key, doc.ID, string(promotion)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return enginerr.Newf(enginerr.CodeDatabaseError,
				"document %q disappeared during promotion", relPath)
		}
		return err
	}

	absPath := filepath.Join(ix.docsRoot, filepath.FromSlash(relPath))
	data, err := os.ReadFile(absPath)
	if err != nil {
		return enginerr.Wrap(enginerr.CodeFileSystemError,
			"promotion stored but the file could not be read for rewrite", err).
			WithDetail("document_path", relPath)
	}
	if err := os.WriteFile(absPath, rewritePromotion(data, string(promotion)), 0o644); err != nil {
		return enginerr.Wrap(enginerr.CodeFileSystemError,
			"promotion stored but the file could not be rewritten", err).
			WithDetail("document_path", relPath)
	}

	ix.logger.Info("promotion updated",
		logging.DocPath(relPath),
		slog.String("promotion_level", string(promotion)))
	return nil
}

// rewritePromotion updates or inserts the promotion_level field inside
// the frontmatter block, leaving every other byte of the file untouched.
// A file without frontmatter gains a minimal block.
func rewritePromotion(data []byte, level string) []byte {
	content := string(data)
	fieldLine := "promotion_level: " + level

	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != "---" {
		return []byte("---\n" + fieldLine + "\n---\n\n" + content)
	}

	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == "---" {
			closing = i
			break
		}
	}
	if closing < 0 {
		// Unterminated frontmatter; leave the file alone rather than
		// guess at a structure the parser would reject anyway.
		return data
	}

	for i := 1; i < closing; i++ {
		trimmed := strings.TrimRight(lines[i], "\r")
		if strings.HasPrefix(trimmed, "promotion_level:") {
			lines[i] = fieldLine
			return []byte(strings.Join(lines, "\n"))
		}
	}

	updated := make([]string, 0, len(lines)+1)
	updated = append(updated, lines[:closing]...)
	updated = append(updated, fieldLine)
	updated = append(updated, lines[closing:]...)
	return []byte(strings.Join(updated, "\n"))
}

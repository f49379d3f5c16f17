package extract

import (
	"context"
	"errors"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/spf13/afero"

	"github.com/Aman-CERP/dropwatch/internal/category"
	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

var errNoAddressHeaders = errors.New("message has neither From nor To header")

// EmailExtractor parses RFC 5322 messages.
type EmailExtractor struct {
	fs afero.Fs
}

// NewEmailExtractor creates an EmailExtractor reading through fsys.
func NewEmailExtractor(fsys afero.Fs) *EmailExtractor {
	return &EmailExtractor{fs: fsys}
}

// Extract returns the address headers, the plain text body and the
// attachment names. Content transfer encodings are decoded.
func (e *EmailExtractor) Extract(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	f, err := e.fs.Open(path)
	if err != nil {
		return Result{}, dwerrors.ExtractionError(path, err)
	}
	defer f.Close()

	env, err := enmime.ReadEnvelope(f)
	if err != nil {
		return Result{}, dwerrors.ExtractionError(path, err)
	}

	from := env.GetHeader("From")
	to := env.GetHeader("To")
	if from == "" && to == "" {
		return Result{}, dwerrors.ExtractionError(path, errNoAddressHeaders)
	}

	plain := env.Text
	if plain == "" && env.HTML != "" {
		// enmime fills Text from HTML when there is no text part; an
		// empty Text here means the conversion produced nothing.
		plain = strings.TrimSpace(env.HTML)
	}

	return Result{
		Key: category.KeyForPath(path),
		Fields: Fields{
			FieldTo:          to,
			FieldCC:          env.GetHeader("Cc"),
			FieldFrom:        from,
			FieldPlainText:   plain,
			FieldAttachments: attachmentNames(env),
		},
	}, nil
}

func attachmentNames(env *enmime.Envelope) string {
	names := make([]string, 0, len(env.Attachments))
	for _, p := range env.Attachments {
		if p.FileName != "" {
			names = append(names, p.FileName)
		}
	}
	return strings.Join(names, ",")
}

package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/export"
)

// Download is a rendered export ready to be sent to a client
type Download struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Export renders a stored session in the named format
func (s *Service) Export(ctx context.Context, fileID, format string) (d *Download, err error) {
	defer func(start time.Time) { s.observe("export", start, err) }(time.Now())

	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, validation("%v", err)
	}
	sess, err := s.FetchSession(ctx, fileID)
	if err != nil {
		return nil, err
	}
	data, err := export.Render(sess, f)
	if err != nil {
		if errors.Is(err, export.ErrUnknownFormat) {
			return nil, validation("%v", err)
		}
		return nil, err
	}
	return &Download{
		FileName:    export.FileName(sess, f),
		ContentType: f.ContentType(),
		Data:        data,
	}, nil
}

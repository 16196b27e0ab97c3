package providers

import (
	"github.com/samber/do/v2"

	"github.com/tandemapp/tandem-server/internal/config"
	"github.com/tandemapp/tandem-server/internal/logger"
	"github.com/tandemapp/tandem-server/internal/records"
)

// OpenerHandle wraps the records opener with shutdown capability.
type OpenerHandle struct {
	*records.Opener
}

// Shutdown implements do.Shutdownable.
func (h *OpenerHandle) Shutdown() error {
	h.Opener.Close()
	return nil
}

// ProvideRecordsOpener provides per-user access to the records API.
func ProvideRecordsOpener(i do.Injector) (*OpenerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	opener := records.NewOpener(records.Config{
		BaseURL: cfg.Records.BaseURL,
		Version: cfg.Records.Version,
		Timeout: cfg.Records.Timeout,
		RPS:     cfg.Records.RPS,
		Burst:   cfg.Records.Burst,
	}, log.Logger)

	log.Info("Records client ready",
		"base_url", cfg.Records.BaseURL,
		"rps", cfg.Records.RPS,
		"burst", cfg.Records.Burst,
	)

	return &OpenerHandle{Opener: opener}, nil
}

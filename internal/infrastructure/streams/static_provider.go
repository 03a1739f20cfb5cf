package streams

import (
	"context"
	"fmt"
	"os"
	"time"

	"sfulink/internal/core/domain"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// StaticProvider emits the desired stream list from a YAML file. With a
// non-zero reload interval the file is re-read whenever it changes.
type StaticProvider struct {
	path     string
	interval time.Duration
	clock    clock.Clock
	logger   *zap.SugaredLogger
}

func NewStaticProvider(path string, interval time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *StaticProvider {
	if clk == nil {
		clk = clock.New()
	}
	return &StaticProvider{path: path, interval: interval, clock: clk, logger: logger}
}

// Load reads and validates the file
func Load(path string) (domain.DesiredUpdate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DesiredUpdate{}, fmt.Errorf("failed to read streams file: %w", err)
	}
	var update domain.DesiredUpdate
	if err := yaml.Unmarshal(data, &update); err != nil {
		return domain.DesiredUpdate{}, fmt.Errorf("failed to parse streams file: %w", err)
	}
	return update.Normalize()
}

func (p *StaticProvider) Run(ctx context.Context, emit func(domain.DesiredUpdate)) error {
	update, err := Load(p.path)
	if err != nil {
		return err
	}
	modTime := p.modTime()
	emit(update)
	p.logger.Infow("desired streams loaded", "path", p.path, "streams", len(update.Streams))

	if p.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			mt := p.modTime()
			if mt.Equal(modTime) {
				continue
			}
			modTime = mt

			update, err := Load(p.path)
			if err != nil {
				p.logger.Warnw("keeping previous desired streams", "path", p.path, "error", err)
				continue
			}
			p.logger.Infow("desired streams reloaded", "path", p.path, "streams", len(update.Streams))
			emit(update)
		}
	}
}

func (p *StaticProvider) modTime() time.Time {
	info, err := os.Stat(p.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

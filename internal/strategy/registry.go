package strategy

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/circuitbreaker"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// Deps carries what the built-in strategies need
type Deps struct {
	Client   *http.Client
	Config   *config.Config
	Breakers *circuitbreaker.Set
	Tool     InfoFetcher
	Logger   *zap.Logger
}

// NewDefaultRegistry registers every built-in strategy
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	logger := d.Logger.Named("strategy")

	r.MustAdd(NameInstagramPage, func() Strategy {
		return NewInstagramPage(d.Client, d.Config.Instagram, logger)
	})
	r.MustAdd(NameInstagramGraphQL, func() Strategy {
		return NewInstagramGraphQL(d.Client, d.Config.Instagram, logger)
	})
	r.MustAdd(NameTikTokMirror, func() Strategy {
		return NewTikTokMirror(d.Client, d.Config.TikTok, d.Breakers, logger)
	})
	r.MustAdd(NameTikTokPageState, func() Strategy {
		return NewTikTokPageState(d.Client, d.Config.TikTok, logger)
	})
	r.MustAdd(NameTikTokHTMLScan, func() Strategy {
		return NewTikTokHTMLScan(d.Client, d.Config.TikTok, logger)
	})
	r.MustAdd(NameTikTokOpenGraph, func() Strategy {
		return NewTikTokOpenGraph(d.Client, d.Config.TikTok, logger)
	})
	r.MustAdd(NameYouTubeNative, func() Strategy {
		return NewYouTubeNative(d.Client)
	})
	for _, p := range types.Platforms {
		platform := p
		r.MustAdd(ToolName(platform), func() Strategy {
			return NewTool(platform, d.Tool)
		})
	}
	return r
}

// Policy extracts the configured strategy order per platform
func Policy(cfg *config.Config) map[types.Platform][]string {
	policy := make(map[types.Platform][]string, len(types.Platforms))
	for _, p := range types.Platforms {
		policy[p] = cfg.Platform(p).Strategies
	}
	return policy
}

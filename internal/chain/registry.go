package chain

import (
	"islapay.com/internal/domain"
	"islapay.com/internal/infra/ethereum"
	"islapay.com/internal/infra/solana"
	"islapay.com/pkg/xerr"
)

// Entry 注册表条目：静态配置 + 按家族选好的适配器
// Bitcoin 家族只做密钥托管，没有余额适配器，Adapter 为 nil
type Entry struct {
	Config  domain.ChainConfig
	Adapter domain.ChainAdapter
}

// Registry 链注册表，进程启动时构建一次，之后只读
type Registry struct {
	byID    map[int64]*Entry
	ordered []*Entry
}

// NewRegistry 校验配置并为每条链实例化适配器
// 配置缺失 (RPC 端点、未知家族、重复 chain id) 是启动期致命错误
func NewRegistry(cfgs []domain.ChainConfig) (*Registry, error) {
	r := &Registry{byID: make(map[int64]*Entry, len(cfgs))}

	for _, cfg := range cfgs {
		if cfg.Name == "" || cfg.Symbol == "" {
			return nil, xerr.Newf(xerr.ConfigError, "chain %d: name and symbol are required", cfg.ChainID)
		}
		if _, dup := r.byID[cfg.ChainID]; dup {
			return nil, xerr.Newf(xerr.ConfigError, "duplicate chain id %d", cfg.ChainID)
		}

		var (
			adapter domain.ChainAdapter
			err     error
		)
		switch cfg.Family {
		case domain.FamilyEVM:
			adapter, err = ethereum.New(cfg.Name, cfg.RPC, cfg.Decimals)
		case domain.FamilySolana:
			adapter, err = solana.New(cfg.Name, cfg.RPC)
		case domain.FamilyBitcoin:
			// 仅托管，不同步余额
			adapter = nil
		default:
			return nil, xerr.Newf(xerr.ConfigError, "chain %s: unknown family %q", cfg.Name, cfg.Family)
		}
		if err != nil {
			return nil, err
		}

		entry := &Entry{Config: cfg, Adapter: adapter}
		r.byID[cfg.ChainID] = entry
		r.ordered = append(r.ordered, entry)
	}

	if len(r.ordered) == 0 {
		return nil, xerr.New(xerr.ConfigError, "chain registry is empty")
	}
	return r, nil
}

func (r *Registry) Get(chainID int64) (*Entry, bool) {
	e, ok := r.byID[chainID]
	return e, ok
}

func (r *Registry) All() []*Entry {
	return r.ordered
}

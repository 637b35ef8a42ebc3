// internal/pkg/bootstrap/remote.go
package bootstrap

import (
	"github.com/rs/zerolog/log"
)

// RemoteConfigSource 是 Nacos 配置客户端的最小子集
type RemoteConfigSource interface {
	GetConfig(dataID string) (string, error)
	ListenConfig(dataID string, onChange func(content string)) error
}

// WatchRemoteConfig 用远程配置覆盖 base 并持续监听变更。
// 每次变更都基于 base 重新解析，解析失败时保留上一份快照。onApply 在新快照生效后调用。
func WatchRemoteConfig(src RemoteConfigSource, dataID string, base Config, onApply ...func(Config)) error {
	apply := func(content string) {
		if content == "" {
			return
		}
		cfg, err := ParseConfig(base, []byte(content))
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			log.Error().Err(err).Str("data_id", dataID).Msg("ignoring invalid remote config")
			return
		}
		SetCurrentConfig(cfg)
		for _, fn := range onApply {
			fn(cfg)
		}
		log.Info().Str("data_id", dataID).Msg("remote config applied")
	}

	content, err := src.GetConfig(dataID)
	if err != nil {
		return err
	}
	apply(content)
	return src.ListenConfig(dataID, apply)
}

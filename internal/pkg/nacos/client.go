// internal/pkg/nacos/client.go
package nacos

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultGroup = "DEFAULT_GROUP"

	// MetadataScheme 实例元数据中的协议，缺省为 http
	MetadataScheme = "scheme"
)

// Client 同时持有命名客户端(注册/发现)和配置客户端(远程配置)
type Client struct {
	naming naming_client.INamingClient
	config config_client.IConfigClient
	group  string

	// Metadata 随实例注册
	Metadata map[string]string
}

// ParseServerConfigs 解析 "ip1:port1,ip2:port2"
func ParseServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var out []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil || host == "" {
			return nil, errors.Errorf("invalid nacos address %q", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid port in nacos address %q", addr)
		}
		out = append(out, *constant.NewServerConfig(host, port))
	}
	return out, nil
}

func NewNacosClient(addrs, namespaceID, group string) (*Client, error) {
	if group == "" {
		group = defaultGroup
	}
	servers, err := ParseServerConfigs(addrs)
	if err != nil {
		return nil, err
	}

	cc := constant.NewClientConfig(
		constant.WithNamespaceId(namespaceID),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
	)
	param := vo.NacosClientParam{ClientConfig: cc, ServerConfigs: servers}

	naming, err := clients.NewNamingClient(param)
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}
	config, err := clients.NewConfigClient(param)
	if err != nil {
		return nil, errors.Wrap(err, "create nacos config client")
	}

	log.Info().Str("addrs", addrs).Str("namespace", namespaceID).Str("group", group).Msg("nacos client ready")
	return &Client{
		naming:   naming,
		config:   config,
		group:    group,
		Metadata: map[string]string{MetadataScheme: "http"},
	}, nil
}

// RegisterServiceInstance 以临时实例注册，心跳断开后自动摘除
func (c *Client) RegisterServiceInstance(serviceName, ip string, port int) error {
	ok, err := c.naming.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		GroupName:   c.group,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    c.Metadata,
	})
	if err != nil {
		return errors.Wrapf(err, "register %s to nacos", serviceName)
	}
	if !ok {
		return errors.Errorf("nacos rejected registration of %s", serviceName)
	}
	log.Info().Str("service", serviceName).Str("ip", ip).Int("port", port).Msg("registered to nacos")
	return nil
}

func (c *Client) DeregisterServiceInstance(serviceName, ip string, port int) error {
	if _, err := c.naming.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		GroupName:   c.group,
		Ephemeral:   true,
	}); err != nil {
		return errors.Wrapf(err, "deregister %s from nacos", serviceName)
	}
	log.Info().Str("service", serviceName).Msg("deregistered from nacos")
	return nil
}

// DiscoverServiceInstance 按权重选出一个健康实例
func (c *Client) DiscoverServiceInstance(serviceName string) (*model.Instance, error) {
	inst, err := c.naming.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: serviceName,
		GroupName:   c.group,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", serviceName)
	}
	if inst == nil {
		return nil, errors.Errorf("no healthy instance of %s", serviceName)
	}
	return inst, nil
}

// ResolveBaseURL 让 Client 可以作为 httpclient.Resolver 使用
func (c *Client) ResolveBaseURL(serviceName string) (string, error) {
	inst, err := c.DiscoverServiceInstance(serviceName)
	if err != nil {
		return "", err
	}
	return BaseURL(inst), nil
}

// BaseURL 由实例地址和元数据中的协议拼出根地址
func BaseURL(inst *model.Instance) string {
	scheme := inst.Metadata[MetadataScheme]
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(inst.Ip, strconv.FormatUint(inst.Port, 10)))
}

func (c *Client) GetConfig(dataID string) (string, error) {
	content, err := c.config.GetConfig(vo.ConfigParam{DataId: dataID, Group: c.group})
	if err != nil {
		return "", errors.Wrapf(err, "get nacos config %s", dataID)
	}
	return content, nil
}

// ListenConfig 配置变更时把新内容交给 onChange
func (c *Client) ListenConfig(dataID string, onChange func(content string)) error {
	err := c.config.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  c.group,
		OnChange: func(_, _, _, data string) {
			onChange(data)
		},
	})
	return errors.Wrapf(err, "listen nacos config %s", dataID)
}

// Close 只关闭配置客户端，临时实例随心跳停止过期
func (c *Client) Close() {
	if c.config != nil {
		c.config.CloseClient()
	}
}

// Package es 提供了基于 Elasticsearch dense_vector 索引的向量库网关，每个集合对应一个索引。
package es

import (
	"crypto/tls"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"rag-sync-go/internal/config"
)

// NewClient 根据配置创建 Elasticsearch 客户端，多个地址以逗号分隔。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

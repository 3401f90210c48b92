// Package es 提供了与 Elasticsearch 搜索索引交互的客户端功能。
// 索引是可重建的二级视图：这里的任何失败都不应该使主存储写入失效。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"wisdomlink-go/internal/config"
	"wisdomlink-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// 三个实体各自对应一个索引，文档 ID 使用主存储生成的十六进制 ID。
const (
	IndexChats   = "chats"
	IndexThreads = "threads"
	IndexUsers   = "users"
)

// ErrNotFound 表示索引中不存在目标文档。
// 读路径据此回退主存储，而不是把它当作一个异常分支。
var ErrNotFound = errors.New("es: document not found")

// Hit 是一条搜索命中，Source 为原始 _source 内容。
type Hit struct {
	ID     string
	Source json.RawMessage
}

// Store 是一致性层与查询路由使用的索引操作集合。
type Store interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
	GetDocument(ctx context.Context, index, id string) (json.RawMessage, error)
	UpdateDocument(ctx context.Context, index, id string, fields map[string]interface{}) error
	DeleteDocument(ctx context.Context, index, id string) error
	Search(ctx context.Context, index string, body map[string]interface{}) ([]Hit, error)
}

// Client 是 Store 的 Elasticsearch 实现。
type Client struct {
	es *elasticsearch.Client
}

var ESClient *Client

// Init 初始化 Elasticsearch 客户端并确保三个索引存在。
func Init(esCfg config.ElasticsearchConfig) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{es: client}
	for index, mapping := range indexMappings {
		if err := c.createIndexIfNotExists(index, mapping); err != nil {
			return nil, err
		}
	}
	ESClient = c
	return c, nil
}

// indexMappings 定义三个索引的字段映射，消息数组等其余字段走动态映射。
var indexMappings = map[string]string{
	IndexChats: `{
		"mappings": {
			"properties": {
				"questionUsername": { "type": "keyword" },
				"answerUsername": { "type": "keyword" },
				"content": { "type": "text" },
				"community": { "type": "keyword" },
				"tags": { "type": "keyword" },
				"status": { "type": "keyword" },
				"createdAt": { "type": "date" },
				"updatedAt": { "type": "date" }
			}
		}
	}`,
	IndexThreads: `{
		"mappings": {
			"properties": {
				"content": { "type": "text" },
				"username": { "type": "keyword" },
				"userAvatar": { "type": "keyword" },
				"community": { "type": "keyword" },
				"location": { "type": "text" },
				"tags": { "type": "keyword" },
				"createdAt": { "type": "date" },
				"userId": { "type": "keyword" }
			}
		}
	}`,
	IndexUsers: `{
		"mappings": {
			"properties": {
				"username": { "type": "keyword" },
				"motto": { "type": "text" },
				"avatar": { "type": "keyword" },
				"taps": { "type": "keyword" },
				"level": { "type": "integer" },
				"questionCount": { "type": "integer" },
				"answerCount": { "type": "integer" },
				"highQualityAnswerCount": { "type": "integer" }
			}
		}
	}`,
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它。
func (c *Client) createIndexIfNotExists(indexName, mapping string) error {
	res, err := c.es.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = c.es.Indices.Create(
		indexName,
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexDocument 将文档整体写入索引（insert-or-replace 语义）。
func (c *Client) IndexDocument(ctx context.Context, index, id string, doc interface{}) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("索引文档失败: %s", res.String())
	}
	return nil
}

// GetDocument 按 ID 读取文档，文档不存在时返回 ErrNotFound。
func (c *Client) GetDocument(ctx context.Context, index, id string) (json.RawMessage, error) {
	req := esapi.GetRequest{Index: index, DocumentID: id}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("读取文档失败: %s", res.String())
	}

	var body struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, err
	}
	if !body.Found {
		return nil, ErrNotFound
	}
	return body.Source, nil
}

// UpdateDocument 对已存在的文档做部分更新，文档不存在时返回 ErrNotFound，
// 调用方据此回退为整体重建索引。
func (c *Client) UpdateDocument(ctx context.Context, index, id string, fields map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"doc": fields})
	if err != nil {
		return err
	}

	req := esapi.UpdateRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		return fmt.Errorf("部分更新文档失败: %s", res.String())
	}
	return nil
}

// DeleteDocument 从索引中删除文档，文档本就不存在不视为错误。
func (c *Client) DeleteDocument(ctx context.Context, index, id string) error {
	req := esapi.DeleteRequest{Index: index, DocumentID: id}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("删除文档失败: %s", res.String())
	}
	return nil
}

// Search 执行一次搜索请求，body 为完整的查询体（query/size/sort/_source 等）。
func (c *Client) Search(ctx context.Context, index string, body map[string]interface{}) ([]Hit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("序列化查询体失败: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("搜索请求失败: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析搜索响应失败: %w", err)
	}

	hits := make([]Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Source: h.Source})
	}
	return hits, nil
}

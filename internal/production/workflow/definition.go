package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidWorkflow = errors.New("invalid workflow")

// Node 工序节点
type Node struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Stage       Stage           `json:"stage"`
	Index       int             `json:"index"`
	Synthesized bool            `json:"synthesized,omitempty"`
}

// Definition 订单工序流程，节点0固定为下单
type Definition struct {
	Nodes []Node

	byID         map[string]int
	byName       map[string]int
	firstByStage map[Stage]int
	ledger       []Node
	aliases      *AliasTable
}

type rawNode struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// 订单未配置流程时使用的默认工序
func defaultNodes() []rawNode {
	return []rawNode{
		{ID: "order", Name: "下单"},
		{ID: "procurement", Name: "采购"},
		{ID: "cutting", Name: "裁剪"},
		{ID: "sewing", Name: "车缝"},
		{ID: "quality", Name: "质检"},
		{ID: "warehouse", Name: "入库"},
	}
}

// Parse 解析订单的流程JSON，支持 {"nodes":[...]} 或直接数组
func Parse(raw string, aliases *AliasTable) (*Definition, error) {
	if aliases == nil {
		aliases = DefaultAliasTable()
	}

	var nodes []rawNode
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "" || trimmed == "null" || trimmed == "{}":
		nodes = defaultNodes()
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal([]byte(trimmed), &nodes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
		}
	default:
		var wrapper struct {
			Nodes []rawNode `json:"nodes"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
		}
		nodes = wrapper.Nodes
	}
	if len(nodes) == 0 {
		nodes = defaultNodes()
	}

	return build(nodes, aliases)
}

func build(nodes []rawNode, aliases *AliasTable) (*Definition, error) {
	if aliases.StageOf(nodes[0].Name) != StageOrder {
		nodes = append([]rawNode{{ID: "order", Name: "下单"}}, nodes...)
	}

	def := &Definition{
		byID:         make(map[string]int),
		byName:       make(map[string]int),
		firstByStage: make(map[Stage]int),
		aliases:      aliases,
	}
	for i, rn := range nodes {
		name := strings.TrimSpace(rn.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: node %d has no name", ErrInvalidWorkflow, i)
		}
		if rn.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: node %q has negative unit price", ErrInvalidWorkflow, name)
		}
		stage := aliases.StageOf(name)
		if i == 0 {
			stage = StageOrder
		}
		id := strings.TrimSpace(rn.ID)
		if id == "" {
			id = string(stage)
			if _, taken := def.byID[id]; taken || stage == StageCustom {
				id = fmt.Sprintf("node_%d", i)
			}
		}
		if _, dup := def.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidWorkflow, id)
		}

		def.Nodes = append(def.Nodes, Node{ID: id, Name: name, UnitPrice: rn.UnitPrice, Stage: stage, Index: i})
		def.byID[id] = i
		if _, ok := def.byName[name]; !ok {
			def.byName[name] = i
		}
		if _, ok := def.firstByStage[stage]; !ok {
			def.firstByStage[stage] = i
		}
	}

	def.ledger = buildLedger(def)
	return def, nil
}

// 计件台账工序：去掉下单和采购，流程里没有裁剪时补一个裁剪节点
func buildLedger(def *Definition) []Node {
	var out []Node
	if _, ok := def.firstByStage[StageCutting]; !ok {
		id := string(StageCutting)
		if _, taken := def.byID[id]; taken {
			id = "cutting_auto"
		}
		out = append(out, Node{ID: id, Name: "裁剪", Stage: StageCutting, Index: -1, Synthesized: true})
	}
	for _, n := range def.Nodes {
		if n.Stage == StageOrder || n.Stage == StageProcurement {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Len 节点数量
func (d *Definition) Len() int { return len(d.Nodes) }

// Last 最后节点下标
func (d *Definition) Last() int { return len(d.Nodes) - 1 }

// Node 返回下标对应的节点
func (d *Definition) Node(i int) (Node, bool) {
	if i < 0 || i >= len(d.Nodes) {
		return Node{}, false
	}
	return d.Nodes[i], true
}

// Progress 节点i对应的进度百分比 round(i*100/(N-1))
func (d *Definition) Progress(i int) int {
	if len(d.Nodes) <= 1 {
		return 100
	}
	if i <= 0 {
		return 0
	}
	if i >= d.Last() {
		return 100
	}
	return int(math.Round(float64(i) * 100 / float64(d.Last())))
}

// IndexForProgress 进度不超过p的最大节点下标
func (d *Definition) IndexForProgress(p int) int {
	idx := 0
	for i := range d.Nodes {
		if d.Progress(i) <= p {
			idx = i
		}
	}
	return idx
}

// Locate 按节点名称、节点ID、别名依次匹配
func (d *Definition) Locate(label string) (int, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false
	}
	if i, ok := d.byName[label]; ok {
		return i, true
	}
	if i, ok := d.byID[label]; ok {
		return i, true
	}
	return 0, false
}

// IndexOfStage 标准阶段在流程中的第一个节点
func (d *Definition) IndexOfStage(stage Stage) (int, bool) {
	i, ok := d.firstByStage[stage]
	return i, ok
}

// LedgerNodes 计件台账的工序列表
func (d *Definition) LedgerNodes() []Node {
	return d.ledger
}

// LedgerNode 按工序编码查找台账工序（含补充的裁剪节点）
func (d *Definition) LedgerNode(code string) (Node, bool) {
	for _, n := range d.ledger {
		if n.ID == code {
			return n, true
		}
	}
	return Node{}, false
}

// LedgerNodeForStage 阶段对应的台账工序
func (d *Definition) LedgerNodeForStage(stage Stage) (Node, bool) {
	for _, n := range d.ledger {
		if n.Stage == stage {
			return n, true
		}
	}
	return Node{}, false
}

// Resolution 扫码工序解析结果，Index 为 -1 表示流程中没有对应节点
type Resolution struct {
	Index int
	Stage Stage
	Key   string
	Name  string
}

// InWorkflow 是否命中流程节点
func (r Resolution) InWorkflow() bool { return r.Index >= 0 }

// Resolve 将扫码上报的工序标签解析为流程节点，标签为空或无法识别时使用 fallback 阶段
func (d *Definition) Resolve(label string, fallback Stage) Resolution {
	if i, ok := d.Locate(label); ok {
		n := d.Nodes[i]
		return Resolution{Index: i, Stage: n.Stage, Key: n.ID, Name: n.Name}
	}

	stage, known := d.aliases.Resolve(label)
	if !known {
		stage = fallback
	}
	if stage != StageCustom {
		if i, ok := d.IndexOfStage(stage); ok {
			n := d.Nodes[i]
			return Resolution{Index: i, Stage: n.Stage, Key: n.ID, Name: n.Name}
		}
	}

	name := strings.TrimSpace(label)
	key := string(stage)
	if stage == StageCustom {
		key = "custom:" + name
	}
	if n, ok := d.LedgerNodeForStage(stage); ok && n.Synthesized {
		key = n.ID
		name = n.Name
	}
	if name == "" {
		name = string(stage)
	}
	return Resolution{Index: -1, Stage: stage, Key: key, Name: name}
}

package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stage 标准阶段
type Stage string

const (
	StageOrder       Stage = "order" // 下单
	StageProcurement Stage = "procurement"
	StageCutting     Stage = "cutting"
	StageSewing      Stage = "sewing"
	StageFinishing   Stage = "finishing"
	StageQuality     Stage = "quality"
	StageWarehouse   Stage = "warehouse"
	StageOutbound    Stage = "outbound"
	// 无法识别的自定义工序
	StageCustom Stage = "custom"
)

var knownStages = []Stage{
	StageOrder, StageProcurement, StageCutting, StageSewing,
	StageFinishing, StageQuality, StageWarehouse, StageOutbound,
}

// IsProduction 是否属于生产类扫码处理的阶段
func (s Stage) IsProduction() bool {
	switch s {
	case StageCutting, StageSewing, StageFinishing, StageCustom:
		return true
	}
	return false
}

var defaultAliases = map[Stage][]string{
	StageOrder:       {"下单", "订单", "接单"},
	StageProcurement: {"采购", "物料采购", "面辅料采购", "备料"},
	StageCutting:     {"裁剪", "裁床", "开裁", "裁片"},
	StageSewing:      {"车缝", "缝制", "生产", "缝纫", "车间生产"},
	StageFinishing:   {"后整", "整烫", "尾部", "剪线", "包装"},
	StageQuality:     {"质检", "品检", "验货", "检验"},
	StageWarehouse:   {"入库", "成品入库", "仓库"},
	StageOutbound:    {"出库", "发货", "出货"},
}

// AliasTable 工序名称到标准阶段的映射，加载后只读
type AliasTable struct {
	labels map[string]Stage
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func newAliasTable(aliases map[Stage][]string) *AliasTable {
	t := &AliasTable{labels: make(map[string]Stage)}
	for _, stage := range knownStages {
		t.labels[string(stage)] = stage
	}
	for stage, labels := range aliases {
		for _, l := range labels {
			t.labels[normalizeLabel(l)] = stage
		}
	}
	return t
}

// DefaultAliasTable 内置别名表
func DefaultAliasTable() *AliasTable {
	return newAliasTable(defaultAliases)
}

type aliasFile struct {
	Stages map[string][]string `yaml:"stages"`
}

// LoadAliasFile 读取YAML别名文件，与内置表合并（文件优先）
func LoadAliasFile(path string) (*AliasTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	return ParseAliasYAML(raw)
}

// ParseAliasYAML 解析别名YAML
func ParseAliasYAML(raw []byte) (*AliasTable, error) {
	var f aliasFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse alias yaml: %w", err)
	}

	merged := make(map[Stage][]string, len(defaultAliases))
	for stage, labels := range defaultAliases {
		merged[stage] = append([]string(nil), labels...)
	}
	t := newAliasTable(merged)
	for name, labels := range f.Stages {
		stage, ok := t.labels[normalizeLabel(name)]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q in alias file", name)
		}
		for _, l := range labels {
			t.labels[normalizeLabel(l)] = stage
		}
	}
	return t, nil
}

// Resolve 解析标签对应的标准阶段
func (t *AliasTable) Resolve(label string) (Stage, bool) {
	s, ok := t.labels[normalizeLabel(label)]
	return s, ok
}

// StageOf 未识别的标签归为自定义工序
func (t *AliasTable) StageOf(label string) Stage {
	if s, ok := t.Resolve(label); ok {
		return s
	}
	return StageCustom
}

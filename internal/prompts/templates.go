// internal/prompts/templates.go
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed outline_prompt.tmpl
var outlinePrompt string

//go:embed section_prompt.tmpl
var sectionPrompt string

const (
	OutlineSystemPrompt = "You're a professional YouTube scriptwriter"
	SectionSystemPrompt = "You're a video production expert"
)

// TemplateSet 大纲与章节的提示模板文本，可由生成配置文件覆盖
type TemplateSet struct {
	OutlineSystem string `yaml:"outline_system" json:"outline_system"`
	Outline       string `yaml:"outline" json:"outline"`
	SectionSystem string `yaml:"section_system" json:"section_system"`
	Section       string `yaml:"section" json:"section"`
}

// DefaultTemplateSet 内置模板
func DefaultTemplateSet() TemplateSet {
	return TemplateSet{
		OutlineSystem: OutlineSystemPrompt,
		Outline:       outlinePrompt,
		SectionSystem: SectionSystemPrompt,
		Section:       sectionPrompt,
	}
}

// Merge 用 override 中的非空字段覆盖当前模板
func (t TemplateSet) Merge(override TemplateSet) TemplateSet {
	if override.OutlineSystem != "" {
		t.OutlineSystem = override.OutlineSystem
	}
	if override.Outline != "" {
		t.Outline = override.Outline
	}
	if override.SectionSystem != "" {
		t.SectionSystem = override.SectionSystem
	}
	if override.Section != "" {
		t.Section = override.Section
	}
	return t
}

// Data 模板参数
type Data struct {
	Topic   string
	Tone    string
	Section string
	Outline string
}

// Prompt 构建完成的提示
type Prompt struct {
	System string
	User   string
}

// Builder 编译后的模板集合
type Builder struct {
	outlineSystem string
	sectionSystem string
	outline       *template.Template
	section       *template.Template
}

// NewBuilder 编译模板，语法错误在启动时暴露
func NewBuilder(set TemplateSet) (*Builder, error) {
	outline, err := template.New("outline").Option("missingkey=error").Parse(set.Outline)
	if err != nil {
		return nil, fmt.Errorf("解析大纲模板失败: %w", err)
	}
	section, err := template.New("section").Option("missingkey=error").Parse(set.Section)
	if err != nil {
		return nil, fmt.Errorf("解析章节模板失败: %w", err)
	}
	return &Builder{
		outlineSystem: set.OutlineSystem,
		sectionSystem: set.SectionSystem,
		outline:       outline,
		section:       section,
	}, nil
}

// OutlinePrompt 大纲提示
func (b *Builder) OutlinePrompt(topic, tone string) (Prompt, error) {
	user, err := render(b.outline, Data{Topic: topic, Tone: tone})
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: b.outlineSystem, User: user}, nil
}

// SectionPrompt 章节提示
func (b *Builder) SectionPrompt(topic, tone, section, outline string) (Prompt, error) {
	user, err := render(b.section, Data{Topic: topic, Tone: tone, Section: section, Outline: outline})
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: b.sectionSystem, User: user}, nil
}

func render(tmpl *template.Template, data Data) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("渲染模板 %s 失败: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

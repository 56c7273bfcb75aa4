package permission

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Document is the static catalog configuration. Modules and the permissions
// inside them keep the order in which they were declared.
type Document struct {
	Modules []ModuleSpec `validate:"dive"`
	// ByCode is an optional flat index. When present it must describe exactly
	// the same definitions as Modules.
	ByCode map[Code]IndexEntry `validate:"dive"`
}

// ModuleSpec declares one module and its permissions.
type ModuleSpec struct {
	Key         string `validate:"required"`
	Label       string
	Permissions []DefinitionSpec `validate:"dive"`
}

// DefinitionSpec declares one permission inside a module.
type DefinitionSpec struct {
	Code     Code   `yaml:"-" validate:"gt=0"`
	Action   string `yaml:"action" validate:"required"`
	Label    string `yaml:"label" validate:"required"`
	Requires []Code `yaml:"requires" validate:"dive,gt=0"`
}

// IndexEntry is one row of the optional by_code index.
type IndexEntry struct {
	Module   string `yaml:"module" validate:"required"`
	Action   string `yaml:"action" validate:"required"`
	Label    string `yaml:"label" validate:"required"`
	Requires []Code `yaml:"requires"`
}

var documentValidator = validator.New()

// ParseDocument decodes a YAML (or JSON) catalog document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// UnmarshalYAML walks the mapping nodes by hand so declaration order survives.
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.New("catalog document must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "modules":
			modules, err := decodeModules(value)
			if err != nil {
				return err
			}
			d.Modules = modules
		case "by_code":
			index := make(map[Code]IndexEntry)
			if err := value.Decode(&index); err != nil {
				return fmt.Errorf("by_code: %w", err)
			}
			d.ByCode = index
		default:
			return fmt.Errorf("line %d: unknown field %q", key.Line, key.Value)
		}
	}
	return nil
}

func decodeModules(node *yaml.Node) ([]ModuleSpec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: modules must be a mapping", node.Line)
	}
	seen := make(map[string]struct{}, len(node.Content)/2)
	modules := make([]ModuleSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if _, dup := seen[key.Value]; dup {
			return nil, fmt.Errorf("line %d: module %q declared twice", key.Line, key.Value)
		}
		seen[key.Value] = struct{}{}

		var body struct {
			Label       string    `yaml:"label"`
			Permissions yaml.Node `yaml:"permissions"`
		}
		if err := value.Decode(&body); err != nil {
			return nil, fmt.Errorf("module %q: %w", key.Value, err)
		}
		defs, err := decodeDefinitions(&body.Permissions)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", key.Value, err)
		}
		modules = append(modules, ModuleSpec{Key: key.Value, Label: body.Label, Permissions: defs})
	}
	return modules, nil
}

func decodeDefinitions(node *yaml.Node) ([]DefinitionSpec, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: permissions must be a mapping of code to definition", node.Line)
	}
	defs := make([]DefinitionSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		raw, err := strconv.ParseInt(key.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: permission code %q is not an integer", key.Line, key.Value)
		}
		var def DefinitionSpec
		if err := value.Decode(&def); err != nil {
			return nil, fmt.Errorf("code %d: %w", raw, err)
		}
		def.Code = Code(raw)
		defs = append(defs, def)
	}
	return defs, nil
}

func (d Document) validate() error {
	if err := documentValidator.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidDocument, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

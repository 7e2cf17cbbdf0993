package rules

import "fmt"

// maxExtendsDepth bounds inheritance chains.
const maxExtendsDepth = 5

// DeepMerge merges a child YAML value over a parent: maps recurse, every
// other type (scalars, arrays) is replaced wholesale by the child.
func DeepMerge(parent, child any) any {
	pm, pok := parent.(map[string]any)
	cm, cok := child.(map[string]any)
	if !pok || !cok {
		return child
	}
	merged := make(map[string]any, len(pm)+len(cm))
	for k, v := range pm {
		merged[k] = v
	}
	for k, cv := range cm {
		if pv, ok := pm[k]; ok {
			merged[k] = DeepMerge(pv, cv)
		} else {
			merged[k] = cv
		}
	}
	return merged
}

// ResolveExtends resolves every metadata.extends chain in a set of raw rule
// values keyed by id. Child fields win; cycles, missing parents, and chains
// deeper than maxExtendsDepth are errors.
func ResolveExtends(raw map[string]map[string]any) (map[string]map[string]any, error) {
	resolved := make(map[string]map[string]any, len(raw))
	inProgress := make(map[string]bool)
	for id := range raw {
		if _, err := resolveSingle(id, raw, resolved, inProgress, 0); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func resolveSingle(id string, raw, resolved map[string]map[string]any, inProgress map[string]bool, depth int) (map[string]any, error) {
	if v, ok := resolved[id]; ok {
		return v, nil
	}
	if inProgress[id] {
		return nil, fmt.Errorf("circular extends chain detected for rule '%s'", id)
	}
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("extends chain exceeds maximum depth (%d) for rule '%s'", maxExtendsDepth, id)
	}

	value, ok := raw[id]
	if !ok {
		return nil, fmt.Errorf("rule '%s' not found for extends resolution", id)
	}

	result := value
	if parentID := extendsOf(value); parentID != "" {
		inProgress[id] = true
		parent, err := resolveSingle(parentID, raw, resolved, inProgress, depth+1)
		delete(inProgress, id)
		if err != nil {
			return nil, err
		}
		result = DeepMerge(parent, value).(map[string]any)
	}

	resolved[id] = result
	return result, nil
}

func extendsOf(value map[string]any) string {
	meta, ok := value["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	parent, _ := meta["extends"].(string)
	return parent
}

package codegen

import "fmt"

// ScriptNode is one python_script node's usage analysis plus the graph
// edges that order it relative to its siblings, as needed to validate that
// every artifact a script reads was published by a script that runs
// earlier in the same kernel.
type ScriptNode struct {
	NodeID   string
	KernelID string
	Usage    *FlowfileUsageAnalysis
	DependsOn []string // node IDs this node consumes input from
}

// ValidateArtifactUsage topo-sorts the given python_script nodes by their
// DependsOn edges and checks, within each kernel, that every
// flowfile.read_artifact(name) call names something an earlier node in the
// same kernel actually published; a node's own publishes do not satisfy its
// own reads. Dynamic artifact names are skipped: they can't be
// checked statically.
func ValidateArtifactUsage(nodes []ScriptNode) error {
	order, err := topoSort(nodes)
	if err != nil {
		return err
	}

	published := make(map[string]map[string]bool) // kernelID -> artifact name -> published
	for _, id := range order {
		n := nodeByID(nodes, id)
		if n == nil {
			continue
		}
		kp, ok := published[n.KernelID]
		if !ok {
			kp = make(map[string]bool)
			published[n.KernelID] = kp
		}
		if !n.Usage.DynamicArtifactNames {
			for _, name := range n.Usage.ArtifactsConsumed {
				if !kp[name] {
					return fmt.Errorf("codegen: node %s reads artifact %q in kernel %s before it is published", n.NodeID, name, n.KernelID)
				}
			}
		}
		for _, name := range n.Usage.ArtifactsPublished {
			kp[name] = true
		}
		for _, name := range n.Usage.ArtifactsDeleted {
			delete(kp, name)
		}
	}
	return nil
}

func nodeByID(nodes []ScriptNode, id string) *ScriptNode {
	for i := range nodes {
		if nodes[i].NodeID == id {
			return &nodes[i]
		}
	}
	return nil
}

// topoSort orders nodes so that every DependsOn predecessor precedes its
// dependent, using Kahn's algorithm; a cycle is reported as an error since
// a DAG execution engine can never schedule one.
func topoSort(nodes []ScriptNode) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string)
	for _, n := range nodes {
		if _, ok := indegree[n.NodeID]; !ok {
			indegree[n.NodeID] = 0
		}
		for _, dep := range n.DependsOn {
			indegree[n.NodeID]++
			dependents[dep] = append(dependents[dep], n.NodeID)
		}
	}

	var queue []string
	for _, n := range nodes {
		if indegree[n.NodeID] == 0 {
			queue = append(queue, n.NodeID)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("codegen: cycle detected among python_script nodes")
	}
	return order, nil
}

package driver

const (
	SaveWorkflowQuery = `
		MERGE (w:Workflow {id: $id})
		SET w.version = $version,
			w.timestamp = $timestamp,
			w.file_path = $file_path,
			w.composed_video_url = $composed_video_url
		RETURN w.id AS id
	`

	DeleteWorkflowGraphQuery = `
		MATCH (w:Workflow {id: $id})-[:CONTAINS]->(n:FlowNode)
		DETACH DELETE n
	`

	SaveFlowNodeQuery = `
		MATCH (w:Workflow {id: $workflow_id})
		MERGE (n:FlowNode {id: $id, workflow_id: $workflow_id})
		SET n.type = $type,
			n.label = $label,
			n.status = $status,
			n.preview = $preview,
			n.video_url = $video_url,
			n.file_name = $file_name,
			n.server_path = $server_path,
			n.model = $model,
			n.input_text = $input_text,
			n.sequence_number = $sequence_number,
			n.x = $x,
			n.y = $y
		MERGE (w)-[:CONTAINS]->(n)
		RETURN n.id AS id
	`

	SaveFlowEdgeQuery = `
		MATCH (s:FlowNode {id: $source, workflow_id: $workflow_id})
		MATCH (t:FlowNode {id: $target, workflow_id: $workflow_id})
		MERGE (s)-[e:FEEDS {id: $id}]->(t)
		SET e.source_handle = $source_handle,
			e.target_handle = $target_handle
		RETURN e.id AS id
	`

	GetWorkflowQuery = `
		MATCH (w:Workflow {id: $id})
		RETURN w.id AS id, w.version AS version, w.timestamp AS timestamp,
			w.file_path AS file_path, w.composed_video_url AS composed_video_url
	`

	GetFlowNodesQuery = `
		MATCH (:Workflow {id: $id})-[:CONTAINS]->(n:FlowNode)
		RETURN n.id AS id, n.type AS type, n.label AS label, n.status AS status,
			n.preview AS preview, n.video_url AS video_url, n.file_name AS file_name,
			n.server_path AS server_path, n.model AS model, n.input_text AS input_text,
			n.sequence_number AS sequence_number, n.x AS x, n.y AS y
		ORDER BY n.id
	`

	GetFlowEdgesQuery = `
		MATCH (s:FlowNode {workflow_id: $id})-[e:FEEDS]->(t:FlowNode {workflow_id: $id})
		RETURN e.id AS id, s.id AS source, t.id AS target,
			e.source_handle AS source_handle, e.target_handle AS target_handle
		ORDER BY e.id
	`
)

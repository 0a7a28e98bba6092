// Command korpus builds deterministic, deduplicated text datasets.
//
// Raw JSONL is ingested into canonical records, then built into a filtered
// corpus with a per-record decision log and a write-once manifest:
//
//	korpus data ingest --dataset web raw/*.jsonl
//	korpus data build --dataset web_clean --input artifacts/datasets/web/<id>/records.jsonl
//	korpus manifest verify artifacts/datasets/web_clean/<id>
package main

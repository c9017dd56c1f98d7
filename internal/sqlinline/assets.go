package sqlinline

const QAssetsInsert = `--sql 3f8a61bd-75c2-4de9-a10f-b46c2e98d357
insert into assets (id, generation_id, job_id, storage_key, mime_type, kind, width, height)
values ($1, $2, $3, $4, $5, $6, $7, $8);
`

const QAssetsListByGeneration = `--sql 52e09c4a-81f7-4b36-9d28-c7a5f013e869
select id, generation_id, job_id, storage_key, mime_type, kind, width, height, created_at
from assets
where generation_id = $1
order by created_at asc;
`

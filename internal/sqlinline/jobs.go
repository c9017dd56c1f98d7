// Package sqlinline holds every SQL statement as a tagged constant. The
// leading marker line lets the runner log and the linter audit each query by
// a stable identifier.
package sqlinline

const QJobsInsert = `--sql 8c2f14da-93a1-4c7e-bb1d-2f40ce6b9a01
insert into jobs (id, generation_id, person_id, team_id, status, prompt_json, progress, message)
values ($1, $2, $3, $4, $5, $6, 0, '');
`

const QJobsClaim = `--sql 1d9b0e67-58c4-4ff0-9a2e-7c31da5480b2
with next_job as (
    select id
    from jobs
    where status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update jobs
    set status = 'running', updated_at = now()
    where id in (select id from next_job)
    returning id, generation_id, person_id, team_id, status, prompt_json, progress, message
)
select * from updated;
`

const QJobsUpdateStatus = `--sql 6a7c3e85-02df-4b19-8e64-9f5b1c20dd43
update jobs
set status = $2,
    updated_at = now(),
    error_message = coalesce($3, error_message),
    result_json = coalesce($4, result_json)
where id = $1;
`

const QJobsUpdateProgress = `--sql e4518f29-b6d0-47aa-95c3-08a2de71c6f4
update jobs
set progress = $2,
    message = $3,
    updated_at = now()
where id = $1;
`

const QJobsGetByID = `--sql b90d26c1-47ae-4f02-8c5d-63e1fa08b725
select id, generation_id, person_id, team_id, status, prompt_json, result_json,
       progress, message, coalesce(error_message, ''), created_at, updated_at
from jobs
where id = $1;
`

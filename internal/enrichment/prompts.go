package enrichment

const analystSystemPrompt = "You are an expert financial analyst reviewing company filings. You answer precisely and only with the requested JSON."

const riskComparisonPrompt = `You are comparing the "Risk Factors" sections of two annual filings from the same company.

Summarize the meaningful, substantive changes between the previous and the current report. Focus on risks that were added, removed, or materially reworded. Ignore formatting, renumbering, and trivial wording changes.

Respond ONLY with a single JSON object with one key: "comparison_summary", which is an array of strings. If there are no meaningful changes, return an empty array.

PREVIOUS REPORT RISK FACTORS:
%s

CURRENT REPORT RISK FACTORS:
%s`

const executiveSummaryPrompt = `Write an executive summary of the company's annual filing from the structured analysis below.

Respond ONLY with a single JSON object with two keys: "paragraph" (a concise summary of three to five sentences) and "takeaways" (an array of three to five short strings a busy investor should know).

ANALYSIS:
%s`

const benchmarkPrompt = `Compare the following financial ratios for %s against typical values for companies in the same industry.

Respond ONLY with a single JSON object with one key: "benchmarks", an array of objects with keys "name" (the ratio name as given), "value" (the company's value as given) and "comparison" (one sentence on how it compares to the industry).

RATIOS:
%s`

const explainSystemPrompt = "You are a patient financial educator. You explain charts from company filings in plain language for non-specialist investors."

const explainPrompt = `Explain what the chart titled "%s" shows and what an investor should take away from it. Keep it under 150 words.

CHART DATA:
%s
%s`

package dashboard

// HTML templates for the dashboard pages.
// These are embedded as strings and parsed at runtime.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>genvm Dashboard</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <style>
        .mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }
        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.5; } }
        .animate-pulse { animation: pulse 2s cubic-bezier(0.4, 0, 0.6, 1) infinite; }
        .listing { max-height: 600px; overflow-y: auto; }
    </style>
</head>
<body class="bg-gray-900 text-gray-100 min-h-screen">
    <nav class="bg-gray-800 border-b border-gray-700 sticky top-0 z-50">
        <div class="container mx-auto px-4">
            <div class="flex items-center h-16 space-x-8">
                <a href="/" class="text-xl font-bold text-white">genvm</a>
                <div class="flex items-center space-x-4">
                    <a href="/" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "home"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700 hover:text-white{{end}}">Overview</a>
                    <a href="/best" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "best"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700 hover:text-white{{end}}">Best</a>
                </div>
            </div>
        </div>
    </nav>

    <main class="container mx-auto px-4 py-6">
        {{.Content}}
    </main>

    <script>
        if (window.location.pathname === '/') {
            setInterval(async () => {
                try {
                    const resp = await fetch('/api/status');
                    const data = await resp.json();
                    const genEl = document.getElementById('generation');
                    if (genEl) genEl.textContent = data.generation?.toLocaleString() || '0';
                    const bestEl = document.getElementById('best-main');
                    if (bestEl && data.best) bestEl.textContent = data.best.fitness[0].toPrecision(4);
                    const uptimeEl = document.getElementById('uptime');
                    if (uptimeEl) uptimeEl.textContent = data.uptime || '0s';
                } catch (e) {
                    console.error('Failed to fetch status:', e);
                }
            }, 5000);
        }
    </script>
</body>
</html>`

const homeTemplate = `
<div class="space-y-6">
    <div class="grid grid-cols-1 md:grid-cols-2 lg:grid-cols-4 gap-4">
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Generation</p>
            <p class="text-3xl font-bold text-white mt-1" id="generation">{{formatNumber .Status.Generation}}</p>
            <p class="text-sm mt-1 {{if .Status.Running}}text-green-500 animate-pulse{{else}}text-gray-500{{end}}">{{if .Status.Running}}Running{{else}}Idle{{end}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Best Main Fitness</p>
            <p class="text-3xl font-bold text-white mt-1" id="best-main">{{with .Status.Best}}{{formatNumber (index .Fitness 0)}}{{else}}-{{end}}</p>
            {{with .Status.Best}}<p class="text-sm mt-1"><a href="/genomes/{{.ID}}" class="text-blue-400 hover:text-blue-300 mono">{{.Short}}</a></p>{{end}}
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Population</p>
            <p class="text-3xl font-bold text-white mt-1">{{formatNumber .Status.Population}}</p>
            <p class="text-sm text-gray-500 mt-1">{{.Status.Failed}} failed of {{.Status.PoolSize}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Uptime</p>
            <p class="text-3xl font-bold text-white mt-1" id="uptime">{{.Status.Uptime}}</p>
            <p class="text-sm text-gray-500 mt-1">{{printf "%.2f" .Status.GenerationsPerSec}} generations/sec</p>
        </div>
    </div>

    {{if .Status.LastError}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <span class="text-red-200 text-sm">{{.Status.LastError}}</span>
    </div>
    {{end}}
    {{if .HistoryErr}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <span class="text-red-200 text-sm">History: {{.HistoryErr}}</span>
    </div>
    {{end}}

    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <div class="px-6 py-4 border-b border-gray-700">
            <h2 class="text-lg font-semibold text-white">Recent Generations</h2>
        </div>
        <table class="w-full">
            <thead class="bg-gray-700/50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Generation</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Best</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Fitness</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Mean</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Time (ms)</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-700">
                {{range .Generations}}
                <tr class="hover:bg-gray-700/50">
                    <td class="px-6 py-4 whitespace-nowrap text-white">{{.Generation}}</td>
                    <td class="px-6 py-4 whitespace-nowrap"><a href="/genomes/{{.BestID}}" class="text-blue-400 hover:text-blue-300 mono text-sm">{{printf "%.8s" .BestID}}</a></td>
                    <td class="px-6 py-4 whitespace-nowrap mono text-sm text-gray-300">{{formatFitness .Fitness}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-gray-300">{{formatNumber .MeanMain}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-gray-400">{{printf "%.0f" .DurationMs}}</td>
                </tr>
                {{else}}
                <tr>
                    <td colspan="5" class="px-6 py-8 text-center text-gray-500">No generations yet</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
`

const bestTemplate = `
<div class="space-y-6">
    <h1 class="text-2xl font-bold text-white">Best Individuals</h1>
    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <p class="text-red-200">{{.Error}}</p>
    </div>
    {{end}}
    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <table class="w-full">
            <thead class="bg-gray-700/50">
                <tr>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">#</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Genome</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Fitness</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Bytes</th>
                    <th class="px-6 py-3 text-left text-xs font-medium text-gray-400 uppercase tracking-wider">Born</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-700">
                {{range $i, $ind := .Individuals}}
                <tr class="hover:bg-gray-700/50">
                    <td class="px-6 py-4 whitespace-nowrap text-gray-400">{{$i}}</td>
                    <td class="px-6 py-4 whitespace-nowrap"><a href="/genomes/{{$ind.ID}}" class="text-blue-400 hover:text-blue-300 mono text-sm">{{$ind.Short}}</a></td>
                    <td class="px-6 py-4 whitespace-nowrap mono text-sm text-gray-300">{{formatFitness $ind.Fitness}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-gray-300">{{$ind.Length}}</td>
                    <td class="px-6 py-4 whitespace-nowrap text-gray-400">{{$ind.Generation}}</td>
                </tr>
                {{else}}
                <tr>
                    <td colspan="5" class="px-6 py-8 text-center text-gray-500">No individuals stored</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>
</div>
`

const genomeTemplate = `
<div class="space-y-6">
    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <p class="text-red-200">{{.Error}}</p>
        <p class="text-red-300 mono text-sm mt-2">{{.ID}}</p>
    </div>
    <a href="/best" class="inline-block text-blue-400 hover:text-blue-300">&larr; Back to best</a>
    {{else}}
    {{with .Individual}}
    <div class="flex items-center space-x-4">
        <a href="/best" class="text-gray-400 hover:text-white">&larr;</a>
        <h1 class="text-2xl font-bold text-white">Genome <span class="mono">{{.Short}}</span></h1>
    </div>
    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6 grid grid-cols-1 md:grid-cols-2 gap-4">
        <div>
            <p class="text-gray-400 text-sm">ID</p>
            <p class="text-white mono text-sm break-all">{{.ID}}</p>
        </div>
        <div>
            <p class="text-gray-400 text-sm">Fitness (main / evals / steps / length)</p>
            <p class="text-white mono text-sm">{{formatFitness .Fitness}}</p>
        </div>
        <div>
            <p class="text-gray-400 text-sm">Born in generation</p>
            <p class="text-white">{{.Generation}}</p>
        </div>
        <div>
            <p class="text-gray-400 text-sm">Hexcode ({{.Length}} bytes)</p>
            <p class="text-white mono text-xs break-all">{{.Hexcode}}</p>
        </div>
    </div>
    {{end}}
    <div class="bg-gray-800 rounded-lg border border-gray-700 p-6">
        <h2 class="text-lg font-semibold text-white mb-4">Listing</h2>
        <pre class="listing mono text-sm text-gray-300">{{.Listing}}</pre>
    </div>
    {{end}}
</div>
`

package sandbox

import "fmt"

// AppEntry is the scaffold path of the generated component.
const AppEntry = "src/App.jsx"

const packageJSON = `{
  "name": "tutorpilot-activity",
  "private": true,
  "version": "0.0.0",
  "type": "module",
  "scripts": {
    "dev": "vite --host 0.0.0.0 --port %d"
  },
  "dependencies": {
    "react": "^18.2.0",
    "react-dom": "^18.2.0"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.0.0",
    "vite": "^5.0.0"
  }
}
`

const viteConfig = `import { defineConfig } from 'vite'
import react from '@vitejs/plugin-react'

export default defineConfig({
  plugins: [react()],
  server: {
    host: '0.0.0.0',
    port: %d,
    strictPort: true
  }
})
`

const indexHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>TutorPilot Activity</title>
    <script src="https://cdn.tailwindcss.com"></script>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`

const mainJSX = `import React from 'react'
import ReactDOM from 'react-dom/client'
import App from './App.jsx'

ReactDOM.createRoot(document.getElementById('root')).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>,
)
`

// Scaffold returns the Vite project files wrapping code as the App
// component, with the dev server bound to port.
func Scaffold(code string, port int) []File {
	return []File{
		{Path: "package.json", Content: []byte(fmt.Sprintf(packageJSON, port))},
		{Path: "vite.config.js", Content: []byte(fmt.Sprintf(viteConfig, port))},
		{Path: "index.html", Content: []byte(indexHTML)},
		{Path: "src/main.jsx", Content: []byte(mainJSX)},
		{Path: AppEntry, Content: []byte(code)},
	}
}
